package domain

import "time"

// Certificate describes the edge's keypair for one public domain. The
// private key is owned exclusively by the edge terminator and is never
// copied into a build context or a runtime image.
type Certificate struct {
	Domain    string
	IssuedAt  time.Time
	NotAfter  time.Time
	CertPEM   []byte
	KeyPEM    []byte
}

// NeedsRenewal reports whether the certificate is inside the renewal
// window. Renewal failures inside the window are loud but non-fatal;
// serving continues on the old certificate until it actually expires.
func (c Certificate) NeedsRenewal(now time.Time, window time.Duration) bool {
	return now.Add(window).After(c.NotAfter)
}

// Expired reports whether the certificate can no longer serve.
func (c Certificate) Expired(now time.Time) bool {
	return now.After(c.NotAfter)
}
