package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8002, cfg.Server.Port)
	assert.Equal(t, 45, cfg.Session.GlassesGraceSeconds)
	assert.Equal(t, 5000, cfg.Session.AppGraceMs)
	assert.True(t, cfg.Session.AutoRestart)
	assert.Equal(t, 15, cfg.Heartbeat.PingIntervalSec)
	assert.Equal(t, 3, cfg.Heartbeat.MaxMissedPings)
	assert.Equal(t, 2, cfg.Webhook.MaxRetries)
	assert.Equal(t, "apps.yaml", cfg.AppStore.SeedPath)

	// Empty NATS URL selects the in-memory bus.
	assert.Empty(t, cfg.NATS.URL)

	// A dev secret is generated when none is configured.
	assert.NotEmpty(t, cfg.Auth.CoreSecret)
}

func TestLoadFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 9100
  publicHost: cloud.example.com
session:
  glassesGraceSeconds: 10
  micDebounceMs: 250
heartbeat:
  pingIntervalSec: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "cloud.example.com", cfg.Server.PublicHost)
	assert.Equal(t, 10*time.Second, cfg.Session.GlassesGrace())
	assert.Equal(t, 250*time.Millisecond, cfg.Session.MicDebounce())
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.PingInterval())

	// Untouched sections keep their defaults.
	assert.Equal(t, 5000, cfg.Session.AppStartTimeoutMs)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AUGMENTOS_SERVER_PORT", "9200")
	t.Setenv("AUGMENTOS_AUTH_CORE_SECRET", "from-env")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.CoreSecret)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 0
session:
  glassesGraceSeconds: -1
logging:
  level: loud
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "glassesGraceSeconds")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestDurationHelpers(t *testing.T) {
	s := SessionConfig{AppGraceMs: 5000, AppStartTimeoutMs: 5000, AutoRestartDelayMs: 500, PhotoTimeoutTpaSec: 30, PhotoTimeoutSysSec: 60}
	assert.Equal(t, 5*time.Second, s.AppGrace())
	assert.Equal(t, 5*time.Second, s.AppStartTimeout())
	assert.Equal(t, 500*time.Millisecond, s.AutoRestartDelay())
	assert.Equal(t, 30*time.Second, s.PhotoTimeoutTpa())
	assert.Equal(t, time.Minute, s.PhotoTimeoutSystem())

	w := WebhookConfig{RequestTimeoutSec: 10, RetryBaseDelayMs: 1000, ConfigTimeoutSec: 5}
	assert.Equal(t, 10*time.Second, w.RequestTimeout())
	assert.Equal(t, time.Second, w.RetryBaseDelay())
	assert.Equal(t, 5*time.Second, w.ConfigTimeout())
}
