package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/infrastructure/storage"
)

func TestKeyPrefix(t *testing.T) {
	s := New(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "prison:")
	defer s.Close()

	assert.Equal(t, "prison:AppList0", s.Key("AppList0"))
	assert.Equal(t, "prison:Remark12", s.Key("Remark12"))
}

func TestEmptyKeyRejectedWithoutServer(t *testing.T) {
	s := New(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "")
	defer s.Close()

	_, _, err := s.Get(context.Background(), "")
	assert.ErrorIs(t, err, storage.ErrEmptyKey)
	assert.ErrorIs(t, s.Put(context.Background(), " ", "v"), storage.ErrEmptyKey)
	assert.NoError(t, s.Delete(context.Background()))
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

// Runs against a live server when REDIS_ADDR is set
func TestStoreLive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prefix := "prison-test-" + time.Now().Format("150405.000") + ":"
	s, err := Open(ctx, Config{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	defer s.Close()
	defer s.Delete(ctx, "AppList0", "Remark0")

	_, ok, err := s.Get(ctx, "AppList0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "AppList0", "a,b"))
	v, ok, err := s.Get(ctx, "AppList0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a,b", v)

	require.NoError(t, s.Delete(ctx, "AppList0"))
	_, ok, err = s.Get(ctx, "AppList0")
	require.NoError(t, err)
	assert.False(t, ok)
}
