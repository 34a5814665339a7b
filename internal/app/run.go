package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/acme"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/docker"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/eventbus"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/filesystem"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/httpprober"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/telemetry"
	"github.com/appayureze-cloud/aiastra/internal/usecase/build"
	"github.com/appayureze-cloud/aiastra/internal/usecase/edge"
	"github.com/appayureze-cloud/aiastra/internal/usecase/health"
	"github.com/appayureze-cloud/aiastra/internal/usecase/supervise"
)

// Version is the build version, overridden at link time.
var Version = "dev"

// services holds the wired application services.
type services struct {
	runtime    *docker.Runtime
	bus        *eventbus.InMemory
	store      *filesystem.StateStore
	certs      *filesystem.CertStore
	metrics    *telemetry.Metrics
	buildSvc   *build.Service
	supervisor *supervise.Service
	healthSvc  *health.Service
	edgeSvc    *edge.Service

	shutdownTelemetry func(context.Context)
}

// createServices wires adapters and use cases from configuration. The build
// pipeline and the edge are optional: a host can run supervision only.
func createServices(ctx context.Context, cfg Config, log zerowrap.Logger) (*services, error) {
	runtime, err := docker.NewRuntime()
	if err != nil {
		return nil, log.WrapErr(err, "failed to create Docker runtime")
	}
	if err := runtime.Ping(ctx); err != nil {
		return nil, log.WrapErr(err, "Docker is not available")
	}

	_, shutdownTelemetry, err := telemetry.NewProvider(ctx, cfg.Telemetry, "aiastra", Version)
	if err != nil {
		return nil, log.WrapErr(err, "failed to initialize telemetry")
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, log.WrapErr(err, "failed to register metrics")
	}

	bus := eventbus.NewInMemory(100, log)
	bus.SetMetrics(metrics)

	store, err := filesystem.NewStateStore(filepath.Join(cfg.Server.DataDir, "state"), log)
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, log.WrapErr(err, "failed to create state store")
	}
	certs, err := filesystem.NewCertStore(filepath.Join(cfg.Server.DataDir, "certs"), log)
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, log.WrapErr(err, "failed to create certificate store")
	}

	var buildSvc *build.Service
	if cfg.Build.SourceDir != "" {
		buildSvc, err = build.NewService(cfg.Build, runtime, bus, metrics, log)
		if err != nil {
			shutdownTelemetry(ctx)
			return nil, log.WrapErr(err, "invalid build configuration")
		}
	} else {
		log.Warn().Msg("build pipeline not configured, build and deploy commands unavailable")
	}

	superviseCfg := cfg.Supervise.WithDefaults()
	prober := httpprober.New(httpprober.WithTimeout(superviseCfg.ProbeTimeout))
	supervisor := supervise.NewService(superviseCfg, runtime, prober, store, bus, metrics, log)
	healthSvc := health.NewService(supervisor, prober, log)

	var edgeSvc *edge.Service
	if cfg.Edge.Domain != "" {
		accountDir := cfg.Acme.AccountDir
		if accountDir == "" {
			accountDir = filepath.Join(cfg.Server.DataDir, "acme")
		}
		acmeCfg := cfg.Acme
		acmeCfg.AccountDir = accountDir

		issuer, issuerErr := acme.NewIssuer(acmeCfg, log)
		if issuerErr != nil {
			shutdownTelemetry(ctx)
			return nil, log.WrapErr(issuerErr, "failed to initialize ACME issuer")
		}
		edgeSvc, err = edge.NewService(cfg.Edge, certs, issuer, bus, metrics, log)
		if err != nil {
			shutdownTelemetry(ctx)
			return nil, err
		}
	} else {
		log.Warn().Msg("edge domain not configured, TLS terminator disabled")
	}

	return &services{
		runtime:           runtime,
		bus:               bus,
		store:             store,
		certs:             certs,
		metrics:           metrics,
		buildSvc:          buildSvc,
		supervisor:        supervisor,
		healthSvc:         healthSvc,
		edgeSvc:           edgeSvc,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// Run starts the daemon: bootstrap persisted instances, supervise them,
// terminate TLS, and serve the daemon self-health endpoint until a
// termination signal arrives.
func Run(ctx context.Context, configPath string) error {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	ctx = zerowrap.WithCtx(ctx, log)

	if err := validateRequiredEnv(cfg.RequiredEnv); err != nil {
		return err
	}

	log.Info().
		Str(zerowrap.FieldLayer, "app").
		Str("version", Version).
		Str("data_dir", cfg.Server.DataDir).
		Msg("starting aiastra daemon")

	pidFile := createPidFile(log)
	if pidFile != "" {
		defer removePidFile(pidFile, log)
	}

	svc, err := createServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.shutdownTelemetry(shutdownCtx)
	}()

	if err := svc.bus.Subscribe(newLogHandler(log)); err != nil {
		return log.WrapErr(err, "failed to subscribe event log handler")
	}
	if err := svc.bus.Start(); err != nil {
		return log.WrapErr(err, "failed to start event bus")
	}
	defer func() { _ = svc.bus.Stop() }()

	// Pick up instances from the persisted desired state before anything
	// else: containers may have survived or died with the host.
	if err := svc.supervisor.Bootstrap(ctx); err != nil {
		return log.WrapErr(err, "failed to bootstrap instances")
	}

	statusSrv := newStatusServer(cfg.Server.StatusAddr, svc)
	go func() {
		if serveErr := statusSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error().Err(serveErr).Str("addr", cfg.Server.StatusAddr).Msg("status endpoint failed")
		}
	}()

	if svc.edgeSvc != nil {
		go func() {
			if edgeErr := svc.edgeSvc.Start(ctx); edgeErr != nil {
				log.Error().Err(edgeErr).Msg("edge terminator exited")
			}
		}()
	}

	var redirectSrv *http.Server
	if svc.edgeSvc != nil && cfg.Edge.RedirectAddr != "" {
		redirectSrv = svc.edgeSvc.RedirectServer(cfg.Edge.RedirectAddr, cfg.Acme.ChallengePort)
		go func() {
			if serveErr := redirectSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Error().Err(serveErr).Str("addr", cfg.Edge.RedirectAddr).Msg("redirect listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-ctx.Done():
			sig = syscall.SIGTERM
		}

		switch sig {
		case syscall.SIGUSR2:
			handleDeployRequest(ctx, svc, log)
			continue
		case syscall.SIGUSR1:
			handleControlRequest(ctx, svc, log)
			continue
		}

		log.Info().Str("signal", sig.String()).Msg("shutting down")
		break
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("redirect listener shutdown incomplete")
		}
	}
	if svc.edgeSvc != nil {
		if err := svc.edgeSvc.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("edge shutdown incomplete")
		}
	}
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("status endpoint shutdown incomplete")
	}
	// Containers keep running; their RestartPolicy and the persisted records
	// carry the desired state across the daemon restart.
	if err := svc.supervisor.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("supervisor shutdown incomplete")
	}

	log.Info().Msg("daemon stopped")
	return nil
}

// RunBuild executes the two-phase build pipeline once and returns the
// immutable runtime image reference.
func RunBuild(ctx context.Context, configPath string) (string, error) {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return "", err
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return "", err
	}
	if cleanup != nil {
		defer cleanup()
	}
	ctx = zerowrap.WithCtx(ctx, log)

	runtime, err := docker.NewRuntime()
	if err != nil {
		return "", log.WrapErr(err, "failed to create Docker runtime")
	}
	if err := runtime.Ping(ctx); err != nil {
		return "", log.WrapErr(err, "Docker is not available")
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return "", log.WrapErr(err, "failed to register metrics")
	}

	bus := eventbus.NewInMemory(100, log)
	if err := bus.Subscribe(newLogHandler(log)); err != nil {
		return "", err
	}
	if err := bus.Start(); err != nil {
		return "", err
	}
	defer func() { _ = bus.Stop() }()

	buildSvc, err := build.NewService(cfg.Build, runtime, bus, metrics, log)
	if err != nil {
		return "", err
	}

	img, err := buildSvc.Run(ctx)
	if err != nil {
		return "", err
	}
	return img.Ref, nil
}

// RunDeploy builds a fresh image and hands it to the running daemon for
// supervised (re)start.
func RunDeploy(ctx context.Context, configPath, name string) (string, error) {
	ref, err := RunBuild(ctx, configPath)
	if err != nil {
		return "", err
	}
	if err := SendDeployRequest(name, ref); err != nil {
		return "", fmt.Errorf("image %s built but not deployed: %w", ref, err)
	}
	return ref, nil
}
