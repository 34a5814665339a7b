package out

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// Prober executes one liveness probe against an instance's health endpoint
// and classifies the response. Transport failures and timeouts return a
// record with Success false alongside the wrapped error.
type Prober interface {
	Probe(ctx context.Context, target string) (domain.HealthRecord, error)
}
