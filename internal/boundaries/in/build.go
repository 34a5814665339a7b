// Package in defines input ports (interfaces) for use cases.
// These interfaces define the contract between driving adapters (CLI, HTTP)
// and the business logic (use cases).
package in

import (
	"context"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// BuildService drives the two-phase image pipeline: dependency stages
// first, then runtime image assembly on top of the last stage.
type BuildService interface {
	// BuildStages resolves and builds the dependency stages in order.
	// The pipeline stops at the first failing stage; earlier stages stay
	// usable.
	BuildStages(ctx context.Context, specs []domain.PackageSpec) ([]domain.BuildStage, error)

	// Assemble produces a runtime image from the newest built stage plus
	// the application source tree. On any failure no image is tagged.
	Assemble(ctx context.Context, version string) (*domain.RuntimeImage, error)

	// Stages lists the stages built so far, oldest first.
	Stages(ctx context.Context) ([]domain.BuildStage, error)
}
