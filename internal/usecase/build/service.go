// Package build implements the two-phase image pipeline: dependency stages
// first, runtime assembly second, with nothing promoted on failure.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/telemetry"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/in"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

var _ in.BuildService = (*Service)(nil)

// dockerfileName is the generated recipe written into the build context.
const dockerfileName = "Dockerfile.aiastra"

const versionLayout = "20060102-150405"

// Config holds the build pipeline configuration.
type Config struct {
	ImageName     string               `mapstructure:"image_name"`
	SourceDir     string               `mapstructure:"source_dir"`
	BuilderBase   string               `mapstructure:"builder_base"`
	RuntimeBase   string               `mapstructure:"runtime_base"`
	TorchVersion  string               `mapstructure:"torch_version"`
	TorchIndexURL string               `mapstructure:"torch_index_url"`
	Packages      []domain.PackageSpec `mapstructure:"packages"`
	RuntimeLibs   []string             `mapstructure:"runtime_libs"`
	AppModule     string               `mapstructure:"app_module"`
	ProbePath     string               `mapstructure:"probe_path"`
	Entry         domain.EntryCommand  `mapstructure:"entry"`
	Identity      domain.ExecIdentity  `mapstructure:"identity"`
	NoCache       bool                 `mapstructure:"no_cache"`
}

// WithDefaults fills unset fields with the stock CPU-only recipe.
func (c Config) WithDefaults() Config {
	if c.ImageName == "" {
		c.ImageName = "aiastra-service"
	}
	if c.BuilderBase == "" {
		c.BuilderBase = "python:3.11"
	}
	if c.RuntimeBase == "" {
		c.RuntimeBase = "python:3.11-slim"
	}
	if c.TorchIndexURL == "" {
		c.TorchIndexURL = "https://download.pytorch.org/whl/cpu"
	}
	if len(c.RuntimeLibs) == 0 {
		c.RuntimeLibs = []string{"libgomp1"}
	}
	if c.AppModule == "" {
		c.AppModule = "main:app"
	}
	if c.ProbePath == "" {
		c.ProbePath = "/health"
	}
	if c.Entry.Host == "" {
		c.Entry.Host = "0.0.0.0"
	}
	if c.Entry.Port == 0 {
		c.Entry.Port = 8000
	}
	if c.Entry.Workers == 0 {
		c.Entry.Workers = 1
	}
	if c.Identity.User == "" {
		c.Identity = domain.ExecIdentity{User: "appuser", UID: 1001, GID: 1001, Home: "/home/appuser"}
	}
	return c
}

// buildOnlyMarkers identify packages that belong in the builder stage and
// must never be declared as runtime libraries.
var buildOnlyMarkers = []string{"build-essential", "gcc", "g++", "make", "cmake", "-dev"}

// Validate rejects configurations that would leak build tooling into the
// runtime image.
func (c Config) Validate() error {
	if c.TorchVersion == "" {
		return fmt.Errorf("%w: torch_version must be pinned", domain.ErrInvalidConfig)
	}
	if c.SourceDir == "" {
		return fmt.Errorf("%w: source_dir is required", domain.ErrInvalidConfig)
	}
	for _, lib := range c.RuntimeLibs {
		for _, marker := range buildOnlyMarkers {
			if strings.Contains(lib, marker) {
				return fmt.Errorf("%w: %q is build tooling", domain.ErrBuildToolingLeak, lib)
			}
		}
	}
	return nil
}

// Service implements the BuildService interface.
type Service struct {
	cfg     Config
	runtime out.ContainerRuntime
	bus     out.EventPublisher
	metrics *telemetry.Metrics
	log     zerowrap.Logger

	mu     sync.Mutex
	stages []domain.BuildStage
}

// NewService creates the build pipeline service.
func NewService(cfg Config, runtime out.ContainerRuntime, bus out.EventPublisher, metrics *telemetry.Metrics, log zerowrap.Logger) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		runtime: runtime,
		bus:     bus,
		metrics: metrics,
		log:     log,
	}, nil
}

// BuildStages resolves and builds the dependency stages in order. The
// pinned CPU-only package is always installed first; any failure discards
// the stage tag so no partial prefix survives.
func (s *Service) BuildStages(ctx context.Context, specs []domain.PackageSpec) ([]domain.BuildStage, error) {
	version := time.Now().UTC().Format(versionLayout)
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "build",
		zerowrap.FieldAction:  "BuildStages",
		"version":             version,
	})
	log := zerowrap.FromCtx(ctx)

	cfg := s.cfg
	if len(specs) > 0 {
		cfg.Packages = specs
	}

	stageTag := fmt.Sprintf("%s:stage-%s", cfg.ImageName, version)
	installed := append([]domain.PackageSpec{
		domain.PackageSpec("torch==" + cfg.TorchVersion),
	}, cfg.Packages...)

	_ = s.bus.Publish(domain.EventBuildStarted, domain.BuildPayload{Version: version, ImageRef: stageTag, Stage: 1})
	start := time.Now()

	cleanupDockerfile, err := s.writeDockerfile(cfg)
	if err != nil {
		return nil, s.failBuild(ctx, version, stageTag, err)
	}
	defer cleanupDockerfile()

	imageID, err := s.runtime.BuildImage(ctx, out.ImageBuildRequest{
		ContextDir: cfg.SourceDir,
		Dockerfile: dockerfileName,
		Tags:       []string{stageTag},
		Target:     builderStageName,
		NoCache:    cfg.NoCache,
	})
	if err != nil {
		// Discard the temp tag so a torn stage can never be consumed.
		_ = s.runtime.RemoveImage(ctx, stageTag, true)
		return nil, s.failBuild(ctx, version, stageTag, classifyBuildError(err))
	}

	stage := domain.BuildStage{
		Ordinal:  1,
		Version:  version,
		ImageID:  imageID,
		Tag:      stageTag,
		Packages: installed,
		Prefix:   "/root/.local",
		BuiltAt:  time.Now(),
	}

	s.mu.Lock()
	s.stages = append(s.stages, stage)
	s.mu.Unlock()

	s.observeBuild(ctx, "stage", time.Since(start), nil)
	log.Info().
		Str("image_id", imageID).
		Str("tag", stageTag).
		Int("packages", len(installed)).
		Dur("duration", time.Since(start)).
		Msg("dependency stage built")

	return []domain.BuildStage{stage}, nil
}

// Assemble produces the runtime image from the stage built under version.
// It refuses to run without a fully completed stage.
func (s *Service) Assemble(ctx context.Context, version string) (*domain.RuntimeImage, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "build",
		zerowrap.FieldAction:  "Assemble",
		"version":             version,
	})
	log := zerowrap.FromCtx(ctx)

	stage, ok := s.stageFor(version)
	if !ok {
		return nil, fmt.Errorf("%w: version %s", domain.ErrStageNotBuilt, version)
	}
	exists, err := s.runtime.ImageExists(ctx, stage.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to check stage image %s: %w", stage.Tag, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: stage image %s is gone", domain.ErrStageNotBuilt, stage.Tag)
	}

	ref := fmt.Sprintf("%s:%s", s.cfg.ImageName, version)
	start := time.Now()

	cleanupDockerfile, err := s.writeDockerfile(s.cfg)
	if err != nil {
		return nil, s.failBuild(ctx, version, ref, err)
	}
	defer cleanupDockerfile()

	imageID, err := s.runtime.BuildImage(ctx, out.ImageBuildRequest{
		ContextDir: s.cfg.SourceDir,
		Dockerfile: dockerfileName,
		Tags:       []string{ref},
	})
	if err != nil {
		_ = s.runtime.RemoveImage(ctx, ref, true)
		return nil, s.failBuild(ctx, version, ref, classifyBuildError(err))
	}

	if err := s.verifyRuntimeImage(ctx, ref); err != nil {
		_ = s.runtime.RemoveImage(ctx, ref, true)
		return nil, s.failBuild(ctx, version, ref, err)
	}

	latest := s.cfg.ImageName + ":latest"
	if err := s.runtime.TagImage(ctx, ref, latest); err != nil {
		log.Warn().Err(err).Str("tag", latest).Msg("failed to move the latest tag")
	}

	img := &domain.RuntimeImage{
		Ref:         ref,
		ImageID:     imageID,
		Version:     version,
		Base:        s.cfg.RuntimeBase,
		Stage:       stage,
		Identity:    s.cfg.Identity,
		Port:        s.cfg.Entry.Port,
		Workers:     s.cfg.Entry.Workers,
		ProbePath:   s.cfg.ProbePath,
		EntryCmd:    entryCommand(s.cfg),
		AssembledAt: time.Now(),
	}

	s.observeBuild(ctx, "runtime", time.Since(start), nil)
	_ = s.bus.Publish(domain.EventBuildCompleted, domain.BuildPayload{Version: version, ImageRef: ref, Stage: 2})

	log.Info().
		Str("image_ref", ref).
		Str("image_id", imageID).
		Dur("duration", time.Since(start)).
		Msg("runtime image assembled")

	return img, nil
}

// Run executes the full pipeline: dependency stage, then assembly. The
// assembler can only ever see a stage the builder finished.
func (s *Service) Run(ctx context.Context) (*domain.RuntimeImage, error) {
	stages, err := s.BuildStages(ctx, nil)
	if err != nil {
		return nil, err
	}
	return s.Assemble(ctx, stages[len(stages)-1].Version)
}

// Stages lists the stages built so far, oldest first.
func (s *Service) Stages(_ context.Context) ([]domain.BuildStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BuildStage(nil), s.stages...), nil
}

// verifyRuntimeImage inspects the assembled image before it is promoted:
// it must run as the configured non-root identity and carry the per-user
// prefix bin directory on PATH.
func (s *Service) verifyRuntimeImage(ctx context.Context, ref string) error {
	user, err := s.runtime.InspectImageUser(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to inspect image user: %w", err)
	}
	switch user {
	case "", "root", "0", "0:0":
		return fmt.Errorf("%w: %s", domain.ErrRootRuntime, ref)
	}

	env, err := s.runtime.InspectImageEnv(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to inspect image env: %w", err)
	}
	prefixBin := s.cfg.Identity.Home + "/.local/bin"
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") && strings.Contains(kv, prefixBin) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s missing from runtime PATH", domain.ErrStageNotBuilt, prefixBin)
}

func (s *Service) stageFor(version string) (domain.BuildStage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.stages) - 1; i >= 0; i-- {
		if s.stages[i].Version == version {
			return s.stages[i], true
		}
	}
	return domain.BuildStage{}, false
}

// writeDockerfile materializes the generated recipe inside the build
// context and returns a cleanup func.
func (s *Service) writeDockerfile(cfg Config) (func(), error) {
	path := filepath.Join(cfg.SourceDir, dockerfileName)
	if err := os.WriteFile(path, []byte(generateDockerfile(cfg)), 0644); err != nil {
		return func() {}, fmt.Errorf("failed to write build recipe: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

func (s *Service) failBuild(ctx context.Context, version, ref string, err error) error {
	log := zerowrap.FromCtx(ctx)
	s.observeBuild(ctx, "stage", 0, err)
	_ = s.bus.Publish(domain.EventBuildFailed, domain.BuildPayload{Version: version, ImageRef: ref, Error: err.Error()})
	log.Error().Err(err).Str("image_ref", ref).Msg("build failed")
	return fmt.Errorf("build %s failed: %w", version, err)
}

func (s *Service) observeBuild(ctx context.Context, phase string, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", phase))
	s.metrics.BuildTotal.Add(ctx, 1, attrs)
	if err != nil {
		s.metrics.BuildErrors.Add(ctx, 1, attrs)
		return
	}
	s.metrics.BuildDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// classifyBuildError maps resolver output onto the build error taxonomy.
// Conflicts are permanent, fetch failures are retryable; everything else
// passes through untouched.
func classifyBuildError(err error) error {
	msg := strings.ToLower(err.Error())

	conflictMarkers := []string{
		"resolutionimpossible",
		"conflicting dependencies",
		"no matching distribution",
		"could not find a version",
	}
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", domain.ErrDependencyConflict, err)
		}
	}

	fetchMarkers := []string{
		"connection", "timed out", "timeout", "temporary failure",
		"network is unreachable", "proxy error", "tls", "could not fetch",
	}
	for _, marker := range fetchMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", domain.ErrFetchFailure, err)
		}
	}

	return err
}
