package out

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// CertificateStore persists edge certificates and their private keys.
// Implementations must keep key material out of any path that feeds a
// build context or image.
type CertificateStore interface {
	Save(ctx context.Context, cert domain.Certificate) error
	Load(ctx context.Context, domainName string) (domain.Certificate, error)
	Delete(ctx context.Context, domainName string) error
}

// CertificateIssuer obtains and renews certificates from an ACME CA.
type CertificateIssuer interface {
	Obtain(ctx context.Context, domainName string) (domain.Certificate, error)
	Renew(ctx context.Context, cert domain.Certificate) (domain.Certificate, error)
}
