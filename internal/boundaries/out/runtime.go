// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (Docker, filesystem, ACME, etc.).
package out

import (
	"context"
	"io"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// ImageBuildRequest describes one image build against a context directory.
// Target selects a stage of a multi-stage Dockerfile; empty builds the
// final stage.
type ImageBuildRequest struct {
	ContextDir string
	Dockerfile string
	Tags       []string
	Target     string
	BuildArgs  map[string]*string
	NoCache    bool
}

// ContainerRuntime defines the contract for container runtime operations.
// This interface abstracts the underlying container runtime (Docker, Podman, etc.).
type ContainerRuntime interface {
	// Container lifecycle
	CreateContainer(ctx context.Context, config *domain.ContainerConfig) (*domain.Container, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// Container inspection
	InspectContainer(ctx context.Context, containerID string) (*domain.Container, error)
	ListContainers(ctx context.Context, all bool) ([]*domain.Container, error)
	GetContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error)

	// Image operations
	BuildImage(ctx context.Context, req ImageBuildRequest) (string, error)
	TagImage(ctx context.Context, sourceRef, targetRef string) error
	RemoveImage(ctx context.Context, imageRef string, force bool) error
	ImageExists(ctx context.Context, imageRef string) (bool, error)
	InspectImageEnv(ctx context.Context, imageRef string) ([]string, error)
	InspectImageUser(ctx context.Context, imageRef string) (string, error)

	// Runtime information
	Ping(ctx context.Context) error
}
