package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MUSICFLOW_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 10, cfg.RateLimitAttempts)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 120*time.Second, cfg.ResetQRTimeout)
	assert.Equal(t, 5, cfg.ResetCodeAttempts)
	assert.Equal(t, int64(5*1024*1024), cfg.MaxPictureBytes)
	assert.Equal(t, 1200*time.Millisecond, cfg.StudioGenerateDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.StudioTickInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigin)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MUSICFLOW_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("RATE_LIMIT_ATTEMPTS", "3")
	t.Setenv("RESET_QR_TIMEOUT", "30s")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("STUDIO_TICK_INTERVAL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 3, cfg.RateLimitAttempts)
	assert.Equal(t, 30*time.Second, cfg.ResetQRTimeout)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigin)
	assert.Equal(t, 100*time.Millisecond, cfg.StudioTickInterval)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=info\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	err := Watch(ctx, envFile, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	}, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=debug\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
