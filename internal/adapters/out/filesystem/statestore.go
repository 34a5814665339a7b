// Package filesystem implements file-backed persistence adapters.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// StateStore persists supervisor desired state as one JSON file per
// instance. Writes are temp-file-then-rename so a crash mid-write never
// leaves a torn record.
type StateStore struct {
	rootDir string
	log     zerowrap.Logger
	mu      sync.Mutex
}

var _ out.StateStore = (*StateStore)(nil)

// NewStateStore creates a state store rooted at rootDir.
func NewStateStore(rootDir string, log zerowrap.Logger) (*StateStore, error) {
	rootDir = expandTilde(rootDir)

	if err := os.MkdirAll(rootDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &StateStore{rootDir: rootDir, log: log}, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path[2:])
	}
	return path
}

func (s *StateStore) instancePath(name string) string {
	return filepath.Join(s.rootDir, sanitizePathComponent(name)+".json")
}

// SaveInstance writes one instance record atomically.
func (s *StateStore) SaveInstance(_ context.Context, rec out.InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode instance record: %w", err)
	}

	finalPath := s.instancePath(rec.Name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write instance record: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize instance record: %w", err)
	}

	s.log.Debug().Str("instance", rec.Name).Str("state", string(rec.State)).Msg("instance record saved")
	return nil
}

// LoadInstance reads one instance record.
func (s *StateStore) LoadInstance(_ context.Context, name string) (out.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.instancePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return out.InstanceRecord{}, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
		}
		return out.InstanceRecord{}, fmt.Errorf("failed to read instance record: %w", err)
	}

	var rec out.InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return out.InstanceRecord{}, fmt.Errorf("failed to decode instance record: %w", err)
	}
	return rec, nil
}

// ListInstances reads every persisted record, skipping torn or foreign files.
func (s *StateStore) ListInstances(_ context.Context) ([]out.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var records []out.InstanceRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.rootDir, entry.Name()))
		if err != nil {
			s.log.Warn().Str("file", entry.Name()).Err(err).Msg("skipping unreadable instance record")
			continue
		}
		var rec out.InstanceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn().Str("file", entry.Name()).Err(err).Msg("skipping corrupt instance record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteInstance removes one record; deleting a missing record is not an error.
func (s *StateStore) DeleteInstance(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.instancePath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete instance record: %w", err)
	}
	return nil
}

// sanitizePathComponent keeps instance names from escaping the state root.
func sanitizePathComponent(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
