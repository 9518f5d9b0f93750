package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json")),
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTripAndVersioning(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)

			st := New("run-1", "user-1", "linkedin", now)
			st.Plan = Plan{Type: PlanCredit, AvailableCredits: 3}
			st.AdoptQueue(jobs("a", "b"), now)
			require.NoError(t, store.Save(ctx, st))
			assert.Equal(t, int64(1), st.Version)

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), loaded.Version)
			assert.Equal(t, "user-1", loaded.UserID)
			assert.Equal(t, 3, loaded.Plan.AvailableCredits)
			assert.Len(t, loaded.JobQueue, 2)

			st.Advance(now)
			require.NoError(t, store.Save(ctx, st))
			assert.Equal(t, int64(2), st.Version)

			// loaded is now stale
			loaded.IsRunning = false
			err = store.Save(ctx, loaded)
			require.ErrorIs(t, err, ErrVersionConflict)

			fresh, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, fresh.CurrentJobIndex)

			require.NoError(t, store.Delete(ctx))
			_, err = store.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRejectsStaleInitialWrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, New("first", "user", "linkedin", now)))

			err := store.Save(ctx, New("second", "user", "linkedin", now))
			require.ErrorIs(t, err, ErrVersionConflict)
		})
	}
}

func TestFileStoreIncompatibleSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion": 99, "version": 4}`), 0o600))

	store := NewFileStore(path)
	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, ErrIncompatibleSchema)

	// an incompatible record may be overwritten by a fresh run
	require.NoError(t, store.Save(context.Background(), New("run", "user", "indeed", now)))
}
