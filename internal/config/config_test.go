package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "./rankradar.db", cfg.Database.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Refresh.ActiveWindowDays)
	assert.Equal(t, 48*time.Hour, cfg.Refresh.ActiveWindow())
	assert.Equal(t, 20, cfg.Alerts.MinRankJump)
}

func TestActiveWindowFloor(t *testing.T) {
	r := RefreshConfig{ActiveWindowDays: 0}
	assert.Equal(t, 48*time.Hour, r.ActiveWindow())

	r.ActiveWindowDays = 7
	assert.Equal(t, 7*24*time.Hour, r.ActiveWindow())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/other.db
server:
  port: 9999
refresh:
  active_window_days: 3
  parallelism: 4
alerts:
  min_rank_jump: 10
  slack:
    enabled: true
    webhook_url: https://hooks.slack.com/services/T/B/X
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Refresh.ActiveWindowDays)
	assert.Equal(t, 4, cfg.Refresh.Parallelism)
	assert.Equal(t, 10, cfg.Alerts.MinRankJump)
	assert.True(t, cfg.Alerts.Slack.Enabled)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "./data", cfg.Ingest.DataDir)
	assert.Equal(t, "15 5 * * *", cfg.Schedule.IngestSpec)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RANKRADAR_DB_PATH", "/tmp/env.db")
	t.Setenv("RANKRADAR_ACTIVE_WINDOW_DAYS", "5")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/Y")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Refresh.ActiveWindowDays)
	assert.True(t, cfg.Alerts.Slack.Enabled)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/Y", cfg.Alerts.Slack.WebhookURL)
}

func TestEnvOverrideIgnoresBadWindow(t *testing.T) {
	t.Setenv("RANKRADAR_ACTIVE_WINDOW_DAYS", "banana")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Refresh.ActiveWindowDays)
}
