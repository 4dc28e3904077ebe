package markers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDurableStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteDurableStore(filepath.Join(t.TempDir(), "nested", "markers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "missing"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteDurableStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "markers.db")

	first, err := NewSQLiteDurableStore(path)
	require.NoError(t, err)
	m := New(first, NewMemorySessionStore(), zerolog.Nop())
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, m.SetLastCheck(ctx, "user-1", at))
	require.NoError(t, first.Close())

	second, err := NewSQLiteDurableStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	m = New(second, NewMemorySessionStore(), zerolog.Nop())
	got, ok := m.LastCheck(ctx, "user-1")
	require.True(t, ok)
	assert.True(t, got.Equal(at))
	assert.False(t, m.HasSessionCheck("user-1"), "session markers must not survive a new session")
}

func TestSQLiteDurableStoreClosed(t *testing.T) {
	store, err := NewSQLiteDurableStore(filepath.Join(t.TempDir(), "markers.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err = store.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(context.Background(), "k", "v"))
}

func TestNewSQLiteDurableStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteDurableStore("  ")
	assert.Error(t, err)
}
