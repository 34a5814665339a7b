package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/filesystem"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// DaemonStatus is the daemon self-health document served on the status
// endpoint and printed by the status command.
type DaemonStatus struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Instances []*domain.InstanceStatus `json:"instances"`
}

// newStatusServer serves the daemon's own health endpoint. It binds to a
// loopback address; the edge terminator is the only public surface.
func newStatusServer(addr string, svc *services) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		instances, err := svc.supervisor.List(r.Context())
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		doc := DaemonStatus{
			Status:    "healthy",
			Version:   Version,
			Instances: instances,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("GET /health/{name}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.healthSvc.Check(r.Context(), r.PathValue("name"))
		if err != nil {
			if errors.Is(err, domain.ErrInstanceNotFound) {
				http.Error(w, "Not Found", http.StatusNotFound)
				return
			}
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Status reports per-instance supervisor state. It asks the running daemon
// first for live health, and falls back to the persisted records when no
// daemon is reachable.
func Status(ctx context.Context, configPath string) (*DaemonStatus, error) {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	if doc, liveErr := liveStatus(ctx, cfg.Server.StatusAddr); liveErr == nil {
		return doc, nil
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	store, err := filesystem.NewStateStore(filepath.Join(cfg.Server.DataDir, "state"), log)
	if err != nil {
		return nil, err
	}
	records, err := store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	doc := &DaemonStatus{Status: "not running", Version: Version}
	for _, rec := range records {
		doc.Instances = append(doc.Instances, &domain.InstanceStatus{
			Name:         rec.Name,
			State:        rec.State,
			RestartCount: rec.RestartCount,
			LastHealth:   domain.HealthUnknown,
			LastCause:    rec.LastCause,
			ContainerID:  rec.ContainerID,
			ImageRef:     rec.ImageRef,
		})
	}
	return doc, nil
}

func liveStatus(ctx context.Context, addr string) (*DaemonStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var doc DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
