package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Loader, cfg.Loader)
	assert.Equal(t, def.Memory, cfg.Memory)
	assert.Equal(t, def.Host, cfg.Host)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENGINE_MODE", "memory")
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("LOAD_MAX_ATTEMPTS", "5")
	t.Setenv("LOAD_ERROR_DELAY", "1s")
	t.Setenv("SELF_INSTALL_MARKERS", "alpha,beta")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Engine.Mode)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Loader.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Loader.ErrorDelay)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Host.Markers)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("LOAD_MAX_ATTEMPTS", "not-a-number")

	_, err := Load()
	require.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 3, cfg.Loader.MaxAttempts)
}
