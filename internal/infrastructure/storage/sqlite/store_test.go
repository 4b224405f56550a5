package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/infrastructure/storage"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "registry.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, ok, err := s.Get(ctx, "AppList3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "AppList3", "com.a,com.b"))
	require.NoError(t, s.Put(ctx, "AppList3", "com.b,com.a"))

	v, ok, err := s.Get(ctx, "AppList3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "com.b,com.a", v)

	// empty value is stored, not treated as absent
	require.NoError(t, s.Put(ctx, "Remark3", ""))
	v, ok, err = s.Get(ctx, "Remark3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)

	require.NoError(t, s.Delete(ctx, "AppList3", "Remark3", "never-set"))
	_, ok, err = s.Get(ctx, "AppList3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)
	require.NoError(t, s.Put(ctx, "Remark0", "Personal"))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "Remark0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Personal", v)
}

func TestStoreValidation(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)

	s, _ := openTestStore(t)
	assert.ErrorIs(t, s.Put(context.Background(), "", "x"), storage.ErrEmptyKey)
	require.NoError(t, s.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = s.Get(ctx, "AppList0")
	assert.ErrorIs(t, err, context.Canceled)

	var nilStore *Store
	assert.NoError(t, nilStore.Close())
}
