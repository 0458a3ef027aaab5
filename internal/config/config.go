// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`  // root for the sqlite db and user documents
	DBFile   string `yaml:"db_file"`   // overrides <data_dir>/whatstasker.db when set
	UsersDir string `yaml:"users_dir"` // overrides <data_dir>/users when set
	LogFile  string `yaml:"log_file"`

	// Outbound messaging bridge.
	BridgeURL   string `yaml:"bridge_url"`
	BridgeToken string `yaml:"bridge_token"`

	// Google Calendar OAuth application credentials. Per-user tokens live
	// under <users_dir>/tokens.
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`

	// Trigger engine schedule.
	NotificationIntervalMinutes int `yaml:"notification_interval_minutes"`
	RoutineIntervalMinutes      int `yaml:"routine_interval_minutes"`
	CleanupHourUTC              int `yaml:"cleanup_hour_utc"`
	CleanupMinuteUTC            int `yaml:"cleanup_minute_utc"`
	SchedulerWorkers            int `yaml:"scheduler_workers"`

	HTTPPort int `yaml:"http_port"` // 0 disables the HTTP MCP listener (stdio only)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:                     "data",
		NotificationIntervalMinutes: 60,
		RoutineIntervalMinutes:      60,
		CleanupHourUTC:              0,
		CleanupMinuteUTC:            5,
		SchedulerWorkers:            10,
	}
}

// Load reads a YAML config file on top of the defaults. A missing file is not
// an error; env vars GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET and WT_BRIDGE_URL
// override file values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.GoogleClientSecret = v
	}
	if v := os.Getenv("WT_BRIDGE_URL"); v != "" {
		cfg.BridgeURL = v
	}

	if cfg.NotificationIntervalMinutes <= 0 {
		cfg.NotificationIntervalMinutes = 60
	}
	if cfg.RoutineIntervalMinutes <= 0 {
		cfg.RoutineIntervalMinutes = 60
	}
	if cfg.SchedulerWorkers <= 0 {
		cfg.SchedulerWorkers = 10
	}
	return cfg, nil
}

// DBPath returns the sqlite database path.
func (c *Config) DBPath() string {
	if c.DBFile != "" {
		return c.DBFile
	}
	return filepath.Join(c.DataDir, "whatstasker.db")
}

// UsersPath returns the directory holding per-user preference documents.
func (c *Config) UsersPath() string {
	if c.UsersDir != "" {
		return c.UsersDir
	}
	return filepath.Join(c.DataDir, "users")
}
