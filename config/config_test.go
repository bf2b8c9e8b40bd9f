package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, 10, cfg.Game.MaxPlayers)
	assert.Equal(t, 3*time.Second, cfg.Game.SettleWindow)
	assert.False(t, cfg.Game.BuzzerMode)
	assert.False(t, cfg.Archive.Enabled)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  http_address: ":7000"
store:
  backend: redis
  ttl: 30m
  redis:
    url: redis://cache:6379/2
game:
  max_players: 4
  settle_window: 1500ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("GAME_BUZZER_MODE", "true")
	t.Setenv("SERVER_HTTP_ADDRESS", ":7100")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Server.HTTPAddress)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Store.TTL)
	assert.Equal(t, "redis://cache:6379/2", cfg.Store.Redis.URL)
	assert.Equal(t, 4, cfg.Game.MaxPlayers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Game.SettleWindow)
	assert.True(t, cfg.Game.BuzzerMode)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "etcd")
	_, err := LoadConfig(t.TempDir())
	assert.ErrorContains(t, err, "etcd")
}
