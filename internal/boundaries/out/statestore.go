package out

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// InstanceRecord is the persisted desired-state entry for one instance.
// It survives daemon and host restarts; the supervisor reconciles the
// runtime against it on boot.
type InstanceRecord struct {
	Name         string               `json:"name"`
	ImageRef     string               `json:"image_ref"`
	ContainerID  string               `json:"container_id,omitempty"`
	State        domain.InstanceState `json:"state"`
	RestartCount int                  `json:"restart_count"`
	LastCause    domain.RestartCause  `json:"last_cause,omitempty"`
	UpdatedAt    string               `json:"updated_at"`
}

// StateStore persists supervisor desired state across restarts.
type StateStore interface {
	SaveInstance(ctx context.Context, rec InstanceRecord) error
	LoadInstance(ctx context.Context, name string) (InstanceRecord, error)
	ListInstances(ctx context.Context) ([]InstanceRecord, error)
	DeleteInstance(ctx context.Context, name string) error
}
