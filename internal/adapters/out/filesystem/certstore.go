package filesystem

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// CertStore persists edge certificates as PEM pairs under a private
// directory. Renewal replaces both files atomically, so an interrupted
// renewal keeps serving the previous pair.
type CertStore struct {
	rootDir string
	log     zerowrap.Logger
	mu      sync.Mutex
}

var _ out.CertificateStore = (*CertStore)(nil)

// NewCertStore creates a certificate store rooted at rootDir. The
// directory is created mode 0700; key files are written mode 0600.
func NewCertStore(rootDir string, log zerowrap.Logger) (*CertStore, error) {
	rootDir = expandTilde(rootDir)

	if err := os.MkdirAll(rootDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	return &CertStore{rootDir: rootDir, log: log}, nil
}

func (s *CertStore) certPath(domainName string) string {
	return filepath.Join(s.rootDir, sanitizePathComponent(domainName)+".crt")
}

func (s *CertStore) keyPath(domainName string) string {
	return filepath.Join(s.rootDir, sanitizePathComponent(domainName)+".key")
}

// Save writes the certificate and key, key first so a readable cert always
// has its key on disk.
func (s *CertStore) Save(_ context.Context, cert domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.keyPath(cert.Domain), cert.KeyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := writeFileAtomic(s.certPath(cert.Domain), cert.CertPEM, 0600); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	s.log.Info().
		Str("domain", cert.Domain).
		Time("not_after", cert.NotAfter).
		Msg("certificate saved")
	return nil
}

// Load reads the PEM pair and recovers validity dates from the leaf.
func (s *CertStore) Load(_ context.Context, domainName string) (domain.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	certPEM, err := os.ReadFile(s.certPath(domainName))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Certificate{}, fmt.Errorf("%w: %s", domain.ErrCertNotFound, domainName)
		}
		return domain.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(s.keyPath(domainName))
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return domain.Certificate{}, fmt.Errorf("%w: no PEM block in %s", domain.ErrCertNotFound, s.certPath(domainName))
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return domain.Certificate{
		Domain:   domainName,
		IssuedAt: leaf.NotBefore,
		NotAfter: leaf.NotAfter,
		CertPEM:  certPEM,
		KeyPEM:   keyPEM,
	}, nil
}

// Delete removes the PEM pair.
func (s *CertStore) Delete(_ context.Context, domainName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{s.keyPath(domainName), s.certPath(domainName)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
