package filesystem

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

func selfSignedPEM(t *testing.T, domainName string, notAfter time.Time) ([]byte, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domainName},
		DNSNames:     []string{domainName},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestCertStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewCertStore(t.TempDir(), zerowrap.Default())
	require.NoError(t, err)
	ctx := context.Background()

	notAfter := time.Now().Add(60 * 24 * time.Hour).Truncate(time.Second)
	certPEM, keyPEM := selfSignedPEM(t, "api.example.com", notAfter)

	require.NoError(t, store.Save(ctx, domain.Certificate{
		Domain:  "api.example.com",
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}))

	got, err := store.Load(ctx, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, certPEM, got.CertPEM)
	assert.Equal(t, keyPEM, got.KeyPEM)
	assert.WithinDuration(t, notAfter, got.NotAfter, time.Second, "validity recovered from the leaf")
}

func TestCertStoreKeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCertStore(dir, zerowrap.Default())
	require.NoError(t, err)

	certPEM, keyPEM := selfSignedPEM(t, "api.example.com", time.Now().Add(time.Hour))
	require.NoError(t, store.Save(context.Background(), domain.Certificate{
		Domain:  "api.example.com",
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}))

	info, err := os.Stat(store.keyPath("api.example.com"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestCertStoreLoadMissing(t *testing.T) {
	store, err := NewCertStore(t.TempDir(), zerowrap.Default())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "nope.example.com")
	assert.ErrorIs(t, err, domain.ErrCertNotFound)
}

func TestCertStoreRenewalReplacesInPlace(t *testing.T) {
	store, err := NewCertStore(t.TempDir(), zerowrap.Default())
	require.NoError(t, err)
	ctx := context.Background()

	oldCert, oldKey := selfSignedPEM(t, "api.example.com", time.Now().Add(10*24*time.Hour))
	require.NoError(t, store.Save(ctx, domain.Certificate{Domain: "api.example.com", CertPEM: oldCert, KeyPEM: oldKey}))

	newCert, newKey := selfSignedPEM(t, "api.example.com", time.Now().Add(90*24*time.Hour))
	require.NoError(t, store.Save(ctx, domain.Certificate{Domain: "api.example.com", CertPEM: newCert, KeyPEM: newKey}))

	got, err := store.Load(ctx, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, newCert, got.CertPEM)
	assert.Equal(t, newKey, got.KeyPEM)
}
