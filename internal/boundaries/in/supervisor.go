package in

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// SupervisorService manages supervised instances end to end: launch,
// probe-driven restarts, reboot recovery, and status reporting.
type SupervisorService interface {
	// Deploy launches (or replaces) the named instance from an image and
	// begins supervising it.
	Deploy(ctx context.Context, name, imageRef string) (*domain.Instance, error)

	// Stop performs a manual stop. Stopped instances are not restarted.
	Stop(ctx context.Context, name string) error

	// Restart forces a supervised restart cycle regardless of health.
	Restart(ctx context.Context, name string) error

	// Status reports the supervisor's view of one instance.
	Status(ctx context.Context, name string) (*domain.InstanceStatus, error)

	// List reports all known instances, including terminal ones.
	List(ctx context.Context) ([]*domain.InstanceStatus, error)

	// Bootstrap reconciles persisted desired state with the runtime after
	// a daemon or host restart, relaunching instances that should run.
	Bootstrap(ctx context.Context) error

	// Shutdown stops supervision loops without stopping the processes.
	Shutdown(ctx context.Context) error
}
