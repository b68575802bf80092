package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Server   ServerConfig   `yaml:"server"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects the log encoder.
type LoggingConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

// IngestConfig configures scrape-payload ingestion.
type IngestConfig struct {
	DataDir  string `yaml:"data_dir"`
	MaxFiles int    `yaml:"max_files"`
}

// ScheduleConfig holds cron specs for the daemon's batch jobs.
type ScheduleConfig struct {
	IngestSpec  string `yaml:"ingest_spec"`
	RefreshSpec string `yaml:"refresh_spec"`
}

// RefreshConfig tunes the trend cache refresh.
type RefreshConfig struct {
	// ActiveWindowDays decides which countries still count as
	// reporting: a country whose newest snapshot is older than this
	// is skipped (its cached rows persist until explicitly cleared).
	ActiveWindowDays int `yaml:"active_window_days"`
	Parallelism      int `yaml:"parallelism"`
}

// ActiveWindow returns the window as a duration.
func (r RefreshConfig) ActiveWindow() time.Duration {
	days := r.ActiveWindowDays
	if days <= 0 {
		days = 2
	}
	return time.Duration(days) * 24 * time.Hour
}

// ServerConfig configures the HTTP read API.
type ServerConfig struct {
	Port          int `yaml:"port"`
	HistoryPoints int `yaml:"history_points"`
	PresenceLimit int `yaml:"presence_limit"`
}

// AlertsConfig configures mover notifications.
type AlertsConfig struct {
	// MinRankJump is the free-rank improvement a game needs to
	// trigger a notification after a refresh.
	MinRankJump int           `yaml:"min_rank_jump"`
	Slack       SlackConfig   `yaml:"slack"`
	Discord     DiscordConfig `yaml:"discord"`
	Webhook     WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./rankradar.db"},
		Logging:  LoggingConfig{Mode: "dev"},
		Ingest: IngestConfig{
			DataDir:  "./data",
			MaxFiles: 5,
		},
		Schedule: ScheduleConfig{
			IngestSpec:  "15 5 * * *",
			RefreshSpec: "45 5 * * *",
		},
		Refresh: RefreshConfig{
			ActiveWindowDays: 2,
			Parallelism:      1,
		},
		Server: ServerConfig{
			Port:          8080,
			HistoryPoints: 30,
			PresenceLimit: 8,
		},
		Alerts: AlertsConfig{MinRankJump: 20},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RANKRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RANKRADAR_DATA_DIR"); v != "" {
		cfg.Ingest.DataDir = v
	}
	if v := os.Getenv("RANKRADAR_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("RANKRADAR_ACTIVE_WINDOW_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Refresh.ActiveWindowDays = days
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
