// Package acme implements certificate issuance through an ACME CA using lego.
package acme

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bnema/zerowrap"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

var _ out.CertificateIssuer = (*Issuer)(nil)

// Config holds ACME issuer configuration.
type Config struct {
	Email         string `mapstructure:"email"`
	Staging       bool   `mapstructure:"staging"`
	AccountDir    string `mapstructure:"account_dir"`
	ChallengePort int    `mapstructure:"challenge_port"` // HTTP-01 listener, default 80
}

// account implements the registration.User interface, persisted as a JSON
// file plus a PEM key under the account directory.
type account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

// Issuer implements the CertificateIssuer interface against an ACME CA.
type Issuer struct {
	cfg    Config
	client *lego.Client
	log    zerowrap.Logger
}

// NewIssuer loads or creates the ACME account and registers it with the CA.
func NewIssuer(cfg Config, log zerowrap.Logger) (*Issuer, error) {
	if cfg.AccountDir == "" {
		return nil, fmt.Errorf("acme account directory not configured")
	}
	if err := os.MkdirAll(cfg.AccountDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create account directory: %w", err)
	}

	acct, err := loadOrCreateAccount(cfg)
	if err != nil {
		return nil, err
	}

	legoConfig := lego.NewConfig(acct)
	legoConfig.Certificate.KeyType = certcrypto.RSA2048
	if cfg.Staging {
		log.Info().Msg("using Let's Encrypt staging environment")
		legoConfig.CADirURL = lego.LEDirectoryStaging
	} else {
		legoConfig.CADirURL = lego.LEDirectoryProduction
	}

	client, err := lego.NewClient(legoConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	port := cfg.ChallengePort
	if port <= 0 {
		port = 80
	}
	provider := http01.NewProviderServer("", strconv.Itoa(port))
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("failed to set HTTP-01 provider: %w", err)
	}

	if acct.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("failed to register ACME account: %w", err)
		}
		acct.Registration = reg
		if err := saveAccount(cfg.AccountDir, acct); err != nil {
			return nil, fmt.Errorf("failed to persist ACME registration: %w", err)
		}
		log.Info().Str("email", acct.Email).Msg("ACME account registered")
	}

	return &Issuer{cfg: cfg, client: client, log: log}, nil
}

// Obtain requests a fresh certificate for a domain.
func (i *Issuer) Obtain(_ context.Context, domainName string) (domain.Certificate, error) {
	i.log.Info().
		Str(zerowrap.FieldAdapter, "acme").
		Str("domain", domainName).
		Msg("obtaining certificate")

	res, err := i.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{domainName},
		Bundle:  true,
	})
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to obtain certificate for %s: %w", domainName, err)
	}

	return certFromResource(domainName, res)
}

// Renew exchanges an existing certificate for a fresh one. Failures leave
// the caller's certificate untouched.
func (i *Issuer) Renew(_ context.Context, cert domain.Certificate) (domain.Certificate, error) {
	i.log.Info().
		Str(zerowrap.FieldAdapter, "acme").
		Str("domain", cert.Domain).
		Time("not_after", cert.NotAfter).
		Msg("renewing certificate")

	res, err := i.client.Certificate.Renew(certificate.Resource{
		Domain:      cert.Domain,
		Certificate: cert.CertPEM,
		PrivateKey:  cert.KeyPEM,
	}, true, false, "")
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("%w: %s: %v", domain.ErrCertRenewalFailed, cert.Domain, err)
	}

	return certFromResource(cert.Domain, res)
}

func certFromResource(domainName string, res *certificate.Resource) (domain.Certificate, error) {
	block, _ := pem.Decode(res.Certificate)
	if block == nil {
		return domain.Certificate{}, fmt.Errorf("no PEM block in certificate for %s", domainName)
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to parse obtained certificate: %w", err)
	}

	return domain.Certificate{
		Domain:   domainName,
		IssuedAt: leaf.NotBefore,
		NotAfter: leaf.NotAfter,
		CertPEM:  res.Certificate,
		KeyPEM:   res.PrivateKey,
	}, nil
}

func accountPath(dir string) string { return filepath.Join(dir, "account.json") }
func keyPath(dir string) string     { return filepath.Join(dir, "account.key") }

func loadOrCreateAccount(cfg Config) (*account, error) {
	data, err := os.ReadFile(accountPath(cfg.AccountDir))
	if err == nil {
		var acct account
		if err := json.Unmarshal(data, &acct); err != nil {
			return nil, fmt.Errorf("failed to decode ACME account: %w", err)
		}
		keyPEM, err := os.ReadFile(keyPath(cfg.AccountDir))
		if err != nil {
			return nil, fmt.Errorf("failed to read ACME account key: %w", err)
		}
		key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ACME account key: %w", err)
		}
		acct.key = key
		return &acct, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read ACME account: %w", err)
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ACME account key: %w", err)
	}
	acct := &account{Email: cfg.Email, key: key}
	if err := saveAccount(cfg.AccountDir, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func saveAccount(dir string, acct *account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ACME account: %w", err)
	}
	if err := os.WriteFile(accountPath(dir), data, 0600); err != nil {
		return fmt.Errorf("failed to write ACME account: %w", err)
	}
	keyPEM := certcrypto.PEMEncode(acct.key)
	if err := os.WriteFile(keyPath(dir), keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write ACME account key: %w", err)
	}
	return nil
}
