package in

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// HealthService exposes probe results for status surfaces.
type HealthService interface {
	// Check probes one instance immediately, outside its supervision
	// schedule, and returns the classified record.
	Check(ctx context.Context, name string) (domain.HealthRecord, error)

	// LastKnown returns the most recent supervised probe results for an
	// instance, newest last.
	LastKnown(ctx context.Context, name string) ([]domain.HealthRecord, error)
}
