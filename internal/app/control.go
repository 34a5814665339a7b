package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/docker"
	"github.com/appayureze-cloud/aiastra/internal/adapters/out/filesystem"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// deployRequest is the control message the CLI hands to the daemon.
type deployRequest struct {
	Name     string `json:"name"`
	ImageRef string `json:"image_ref"`
}

func deployRequestFile() string {
	dir, err := secureRuntimeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aiastra-deploy-request")
	}
	return filepath.Join(dir, "deploy-request.json")
}

func stopRequestFile() string {
	dir, err := secureRuntimeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aiastra-stop-request")
	}
	return filepath.Join(dir, "stop-request")
}

func restartRequestFile() string {
	dir, err := secureRuntimeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aiastra-restart-request")
	}
	return filepath.Join(dir, "restart-request")
}

// writeRequestFile creates the request file exclusively with retry, so two
// concurrent CLI invocations cannot clobber each other's request.
func writeRequestFile(path string, data []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			_, writeErr := f.Write(data)
			closeErr := f.Close()
			if writeErr != nil {
				_ = os.Remove(path)
				return writeErr
			}
			return closeErr
		}

		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return fmt.Errorf("request file still present after timeout; another request may be in progress")
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		return err
	}
}

// signalDaemon sends sig to the running daemon process.
func signalDaemon(sig syscall.Signal) error {
	pidFile := findPidFile()
	if pidFile == "" {
		return fmt.Errorf("aiastra PID file not found, is the daemon running?")
	}

	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(pidBytes), "%d", &pid); err != nil {
		return fmt.Errorf("failed to parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}
	return nil
}

// SendDeployRequest asks the running daemon to (re)deploy an instance from
// the given image via SIGUSR2.
func SendDeployRequest(name, imageRef string) error {
	data, err := json.Marshal(deployRequest{Name: name, ImageRef: imageRef})
	if err != nil {
		return err
	}

	path := deployRequestFile()
	if err := writeRequestFile(path, data, 5*time.Second); err != nil {
		return fmt.Errorf("failed to write deploy request: %w", err)
	}
	if err := signalDaemon(syscall.SIGUSR2); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// SendStopRequest asks the running daemon to stop an instance via SIGUSR1.
func SendStopRequest(name string) error {
	path := stopRequestFile()
	if err := writeRequestFile(path, []byte(name), 5*time.Second); err != nil {
		return fmt.Errorf("failed to write stop request: %w", err)
	}
	if err := signalDaemon(syscall.SIGUSR1); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// SendRestartRequest asks the running daemon to bounce an instance via
// SIGUSR1. Restarts need a live supervisor; there is no offline fallback.
func SendRestartRequest(name string) error {
	path := restartRequestFile()
	if err := writeRequestFile(path, []byte(name), 5*time.Second); err != nil {
		return fmt.Errorf("failed to write restart request: %w", err)
	}
	if err := signalDaemon(syscall.SIGUSR1); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// handleDeployRequest consumes the deploy request file inside the daemon.
func handleDeployRequest(ctx context.Context, svc *services, log zerowrap.Logger) {
	path := deployRequestFile()
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Msg("deploy signal received but no readable request")
		return
	}
	_ = os.Remove(path)

	var req deployRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Msg("malformed deploy request")
		return
	}
	if req.Name == "" || req.ImageRef == "" {
		log.Error().Msg("deploy request missing name or image")
		return
	}

	if _, err := svc.supervisor.Deploy(ctx, req.Name, req.ImageRef); err != nil {
		log.Error().Err(err).
			Str(zerowrap.FieldEntityID, req.Name).
			Str("image", req.ImageRef).
			Msg("requested deploy failed")
		return
	}
	log.Info().
		Str(zerowrap.FieldEntityID, req.Name).
		Str("image", req.ImageRef).
		Msg("instance deployed on request")
}

// handleControlRequest consumes a pending restart or stop request file
// inside the daemon. Both share SIGUSR1; the request file names the action.
func handleControlRequest(ctx context.Context, svc *services, log zerowrap.Logger) {
	if data, err := os.ReadFile(restartRequestFile()); err == nil {
		_ = os.Remove(restartRequestFile())
		name := string(data)
		if err := svc.supervisor.Restart(ctx, name); err != nil {
			log.Error().Err(err).Str(zerowrap.FieldEntityID, name).Msg("requested restart failed")
			return
		}
		log.Info().Str(zerowrap.FieldEntityID, name).Msg("instance restart requested")
		return
	}

	path := stopRequestFile()
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Msg("control signal received but no readable request")
		return
	}
	_ = os.Remove(path)

	name := string(data)
	if err := svc.supervisor.Stop(ctx, name); err != nil {
		log.Error().Err(err).Str(zerowrap.FieldEntityID, name).Msg("requested stop failed")
		return
	}
	log.Info().Str(zerowrap.FieldEntityID, name).Msg("instance stopped on request")
}

// RunRestart bounces an instance through the running daemon.
func RunRestart(_ context.Context, name string) error {
	return SendRestartRequest(name)
}

// RunStop stops an instance through the running daemon, or directly against
// the container runtime and state store when no daemon is up.
func RunStop(ctx context.Context, configPath, name string) error {
	if err := SendStopRequest(name); err == nil {
		return nil
	}

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

	store, err := filesystem.NewStateStore(filepath.Join(cfg.Server.DataDir, "state"), log)
	if err != nil {
		return err
	}
	rec, err := store.LoadInstance(ctx, name)
	if err != nil {
		return err
	}

	if rec.ContainerID != "" {
		runtime, runtimeErr := docker.NewRuntime()
		if runtimeErr != nil {
			return log.WrapErr(runtimeErr, "failed to create Docker runtime")
		}
		if stopErr := runtime.StopContainer(ctx, rec.ContainerID); stopErr != nil {
			log.Warn().Err(stopErr).Str(zerowrap.FieldEntityID, name).Msg("container stop failed, recording desired state anyway")
		}
	}

	rec.State = domain.StateStopped
	rec.LastCause = domain.CauseManual
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return store.SaveInstance(ctx, rec)
}
