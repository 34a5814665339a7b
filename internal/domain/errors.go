package domain

import "errors"

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Build errors. Both are fatal to the build that raised them; no partial
	// artifact is ever promoted past the stage that failed.
	ErrDependencyConflict = errors.New("dependency resolution conflict")
	ErrFetchFailure       = errors.New("failed to fetch build dependency")
	ErrBuildToolingLeak   = errors.New("build-only tooling in runtime package set")
	ErrStageNotBuilt      = errors.New("build stage has not been produced")
	ErrRootRuntime        = errors.New("runtime image executes as root")

	// Probe errors. These accumulate toward the unhealthy threshold and are
	// not fatal on their own.
	ErrProbeTimeout = errors.New("probe timed out")
	ErrProbeFailure = errors.New("probe failed")

	// Supervisor errors.
	ErrRestartBudgetExceeded = errors.New("restart budget exceeded")
	ErrInstanceNotFound      = errors.New("instance not found")
	ErrInstanceExists        = errors.New("instance already supervised")
	ErrInstanceFailed        = errors.New("instance is in terminal failed state")

	// Edge errors.
	ErrCertRenewalFailed  = errors.New("certificate renewal failed")
	ErrCertNotFound       = errors.New("certificate not found")
	ErrBackendUnreachable = errors.New("backend unreachable")

	// Config errors.
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigLoadFailed = errors.New("failed to load configuration")
)
