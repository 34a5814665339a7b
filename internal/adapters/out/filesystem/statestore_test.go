package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

func newTestStateStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := NewStateStore(t.TempDir(), zerowrap.Default())
	require.NoError(t, err)
	return store
}

func TestStateStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStateStore(t)
	ctx := context.Background()

	rec := out.InstanceRecord{
		Name:         "inference",
		ImageRef:     "aiastra/runtime:1.4.0",
		ContainerID:  "abc123",
		State:        domain.StateHealthy,
		RestartCount: 2,
		LastCause:    domain.CauseCrash,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	require.NoError(t, store.SaveInstance(ctx, rec))

	got, err := store.LoadInstance(ctx, "inference")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestStateStoreLoadMissing(t *testing.T) {
	store := newTestStateStore(t)

	_, err := store.LoadInstance(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestStateStoreSaveOverwrites(t *testing.T) {
	store := newTestStateStore(t)
	ctx := context.Background()

	rec := out.InstanceRecord{Name: "inference", State: domain.StateStarting}
	require.NoError(t, store.SaveInstance(ctx, rec))

	rec.State = domain.StateHealthy
	rec.RestartCount = 1
	require.NoError(t, store.SaveInstance(ctx, rec))

	got, err := store.LoadInstance(ctx, "inference")
	require.NoError(t, err)
	assert.Equal(t, domain.StateHealthy, got.State)
	assert.Equal(t, 1, got.RestartCount)
}

func TestStateStoreListSkipsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir, zerowrap.Default())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.SaveInstance(ctx, out.InstanceRecord{Name: "good", State: domain.StateHealthy}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "torn.json"), []byte(`{"name":"to`), 0600))

	records, err := store.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].Name)
}

func TestStateStoreDelete(t *testing.T) {
	store := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveInstance(ctx, out.InstanceRecord{Name: "inference"}))
	require.NoError(t, store.DeleteInstance(ctx, "inference"))
	require.NoError(t, store.DeleteInstance(ctx, "inference"), "double delete is fine")

	_, err := store.LoadInstance(ctx, "inference")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestStateStoreSanitizesNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir, zerowrap.Default())
	require.NoError(t, err)

	require.NoError(t, store.SaveInstance(context.Background(), out.InstanceRecord{Name: "../../etc/passwd"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "..")
}
