package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CAPSTACK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 365, cfg.HistoryRetentionDays)
	assert.Equal(t, "@daily", cfg.RetentionSchedule)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadFromEnvironment(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CAPSTACK_DATA_DIR", dataDir)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("HISTORY_RETENTION_DAYS", "30")
	t.Setenv("RETENTION_SCHEDULE", "@hourly")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 30, cfg.HistoryRetentionDays)
	assert.Equal(t, "@hourly", cfg.RetentionSchedule)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CAPSTACK_DATA_DIR", t.TempDir())

	t.Setenv("PORT", "70000")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PORT", "8000")
	t.Setenv("HISTORY_RETENTION_DAYS", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestHistoryDBPath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/capstack"}
	assert.Equal(t, filepath.Join("/var/lib/capstack", "history.db"), cfg.HistoryDBPath())
}
