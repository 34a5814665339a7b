// Package domain contains pure business types without external dependencies.
// These types are used throughout the application and have no tags or framework dependencies.
package domain

import "time"

// PackageSpec is a single dependency declaration handed to the builder,
// e.g. "fastapi==0.110.0" or a bare name for an unpinned install.
type PackageSpec string

// BuildStage is the immutable artifact produced by the dependency builder.
// It is created once per build invocation and never mutated; the assembler
// consumes exactly one of these.
type BuildStage struct {
	Ordinal  int           // position in the pipeline, stage 1 is the dependency build
	Version  string        // build version shared with the runtime image
	ImageID  string        // content-addressed image ID resolved after the build
	Tag      string        // temporary stage tag, e.g. "astra-service:stage-<version>"
	Packages []PackageSpec // everything installed into the prefix
	Prefix   string        // relocatable install prefix inside the stage, e.g. "/root/.local"
	BuiltAt  time.Time
}

// ExecIdentity is the non-privileged user the runtime image executes as.
type ExecIdentity struct {
	User string
	UID  int
	GID  int
	Home string
}

// RuntimeImage is the minimal, immutable, executable unit assembled from a
// single BuildStage. A new build always produces a new image; images are
// never patched in place.
type RuntimeImage struct {
	Ref         string // full reference, e.g. "astra-service:20240811-143502"
	ImageID     string
	Version     string
	Base        string // runtime base image
	Stage       BuildStage
	Identity    ExecIdentity
	Port        int      // declared application port
	Workers     int      // worker process count baked into the entry command
	ProbePath   string   // declared liveness probe path
	EntryCmd    []string // declared entry command
	AssembledAt time.Time
}

// EntryCommand is the fixed contract between the image and the application
// server: host, port and worker count are the only configuration surface.
type EntryCommand struct {
	Host    string
	Port    int
	Workers int
}
