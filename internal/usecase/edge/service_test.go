package edge

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out/mocks"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

func testCert(t *testing.T, domainName string, notAfter time.Time) domain.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domainName},
		DNSNames:     []string{domainName},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return domain.Certificate{
		Domain:   domainName,
		IssuedAt: tmpl.NotBefore,
		NotAfter: notAfter,
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}
}

func newEdgeService(t *testing.T, store *mocks.MockCertificateStore, issuer *mocks.MockCertificateIssuer) *Service {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)

	svc, err := NewService(Config{
		Domain:        "api.example.com",
		BackendPort:   18000,
		RenewalWindow: 30 * 24 * time.Hour,
	}, store, issuer, bus, nil, zerowrap.Default())
	require.NoError(t, err)
	return svc
}

func TestEnsureCertificateObtainsOnFirstStart(t *testing.T) {
	cert := testCert(t, "api.example.com", time.Now().Add(90*24*time.Hour))

	store := &mocks.MockCertificateStore{}
	store.On("Load", mock.Anything, "api.example.com").Return(domain.Certificate{}, domain.ErrCertNotFound)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	issuer := &mocks.MockCertificateIssuer{}
	issuer.On("Obtain", mock.Anything, "api.example.com").Return(cert, nil)

	svc := newEdgeService(t, store, issuer)
	require.NoError(t, svc.ensureCertificate(context.Background()))

	got, err := svc.Certificate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cert.NotAfter, got.NotAfter)
	store.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEnsureCertificateReusesStoredPair(t *testing.T) {
	cert := testCert(t, "api.example.com", time.Now().Add(90*24*time.Hour))

	store := &mocks.MockCertificateStore{}
	store.On("Load", mock.Anything, "api.example.com").Return(cert, nil)

	issuer := &mocks.MockCertificateIssuer{}

	svc := newEdgeService(t, store, issuer)
	require.NoError(t, svc.ensureCertificate(context.Background()))

	issuer.AssertNotCalled(t, "Obtain", mock.Anything, mock.Anything)

	keypair, err := svc.getCertificate(nil)
	require.NoError(t, err)
	assert.NotNil(t, keypair)
}

func TestCheckRenewalOutsideWindowDoesNothing(t *testing.T) {
	cert := testCert(t, "api.example.com", time.Now().Add(60*24*time.Hour))

	store := &mocks.MockCertificateStore{}
	issuer := &mocks.MockCertificateIssuer{}

	svc := newEdgeService(t, store, issuer)
	require.NoError(t, svc.install(cert))

	svc.checkRenewal(context.Background(), time.Now())

	issuer.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything)
}

func TestCheckRenewalInsideWindowRenews(t *testing.T) {
	oldCert := testCert(t, "api.example.com", time.Now().Add(10*24*time.Hour))
	newCert := testCert(t, "api.example.com", time.Now().Add(90*24*time.Hour))

	store := &mocks.MockCertificateStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	issuer := &mocks.MockCertificateIssuer{}
	issuer.On("Renew", mock.Anything, mock.Anything).Return(newCert, nil)

	svc := newEdgeService(t, store, issuer)
	require.NoError(t, svc.install(oldCert))

	svc.checkRenewal(context.Background(), time.Now())

	got, err := svc.Certificate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newCert.NotAfter, got.NotAfter)
	store.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRenewalFailureKeepsServingOldCertificate(t *testing.T) {
	// Ten days out: inside the renewal window, well before expiry.
	oldCert := testCert(t, "api.example.com", time.Now().Add(10*24*time.Hour))

	store := &mocks.MockCertificateStore{}
	issuer := &mocks.MockCertificateIssuer{}
	issuer.On("Renew", mock.Anything, mock.Anything).
		Return(domain.Certificate{}, errors.New("acme: rate limited"))

	svc := newEdgeService(t, store, issuer)
	require.NoError(t, svc.install(oldCert))

	svc.checkRenewal(context.Background(), time.Now())

	got, err := svc.Certificate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, oldCert.NotAfter, got.NotAfter, "failed renewal must not interrupt serving")

	keypair, err := svc.getCertificate(nil)
	require.NoError(t, err)
	assert.NotNil(t, keypair, "TLS handshakes keep working on the old pair")
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestGetCertificateWithoutMaterialFails(t *testing.T) {
	svc := newEdgeService(t, &mocks.MockCertificateStore{}, &mocks.MockCertificateIssuer{})

	_, err := svc.getCertificate(nil)
	assert.ErrorIs(t, err, domain.ErrCertNotFound)
}
