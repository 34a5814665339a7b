package in

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// EdgeService runs the TLS-terminating front door.
type EdgeService interface {
	// Start binds the listener and serves until the context is canceled.
	Start(ctx context.Context) error

	// Stop drains and closes the listener.
	Stop(ctx context.Context) error

	// Certificate reports the currently served certificate for the
	// configured domain.
	Certificate(ctx context.Context) (domain.Certificate, error)
}
