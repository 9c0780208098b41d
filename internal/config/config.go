// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"planstore/storage/transition"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Config represents the application configuration
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Device   DeviceConfig   `yaml:"device"`
	Activity ActivityConfig `yaml:"activity"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig holds storage mode and adapter settings
type StorageConfig struct {
	Mode   string       `yaml:"mode"` // localStorage, dualwrite, remote
	Local  LocalConfig  `yaml:"local"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
}

// LocalConfig holds the local SQLite adapter settings
type LocalConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig holds the remote PostgreSQL adapter settings. The DSN is
// normally kept in the system keyring; a value here overrides it.
type RemoteConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// SyncConfig holds dual-write sync settings
type SyncConfig struct {
	Interval     string `yaml:"interval"`       // queue sweep interval (e.g. "5s")
	MaxRetries   int    `yaml:"max_retries"`    // per-operation retry limit
	MaxQueueSize int    `yaml:"max_queue_size"` // retry queue bound
}

// ServerConfig holds the admin HTTP server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// DeviceConfig holds write-attribution settings
type DeviceConfig struct {
	ID string `yaml:"id"` // generated and persisted on first run when empty
}

// ActivityConfig holds audit trail settings
type ActivityConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Mode: string(transition.ModeLocalOnly),
			Local: LocalConfig{
				Path: filepath.Join(GetDataDir(), "planstore.db"),
			},
			Sync: SyncConfig{
				Interval:     "5s",
				MaxRetries:   3,
				MaxQueueSize: 1000,
			},
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
		},
		Activity: ActivityConfig{
			RetentionDays: 90,
		},
	}
}

// Load loads configuration from the specified path, or the default XDG
// path if empty. If the config file doesn't exist, it creates one from
// the embedded sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	// Apply defaults for unset fields
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = string(transition.ModeLocalOnly)
	}
	if cfg.Storage.Local.Path == "" {
		cfg.Storage.Local.Path = filepath.Join(GetDataDir(), "planstore.db")
	} else {
		cfg.Storage.Local.Path = ExpandPath(cfg.Storage.Local.Path)
	}
	if cfg.Storage.Sync.Interval == "" {
		cfg.Storage.Sync.Interval = "5s"
	}
	if cfg.Storage.Sync.MaxRetries == 0 {
		cfg.Storage.Sync.MaxRetries = 3
	}
	if cfg.Storage.Sync.MaxQueueSize == 0 {
		cfg.Storage.Sync.MaxQueueSize = 1000
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8787"
	}
	if cfg.Activity.RetentionDays == 0 {
		cfg.Activity.RetentionDays = 90
	}

	return cfg, nil
}

// save writes the configuration to the specified path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use the embedded sample config which includes all documentation
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case string(transition.ModeLocalOnly), string(transition.ModeDualWrite), string(transition.ModeRemoteOnly):
	default:
		return fmt.Errorf("invalid storage.mode: %q (must be 'localStorage', 'dualwrite' or 'remote')", c.Storage.Mode)
	}

	if c.Storage.Mode != string(transition.ModeLocalOnly) && !c.Storage.Remote.Enabled {
		return fmt.Errorf("storage.mode %q requires storage.remote.enabled", c.Storage.Mode)
	}

	if c.Storage.Sync.Interval != "" {
		if _, err := time.ParseDuration(c.Storage.Sync.Interval); err != nil {
			return fmt.Errorf("invalid duration for storage.sync.interval: %q", c.Storage.Sync.Interval)
		}
	}
	if c.Storage.Sync.MaxRetries < 0 {
		return fmt.Errorf("storage.sync.max_retries must be non-negative")
	}
	if c.Activity.RetentionDays < 0 {
		return fmt.Errorf("activity.retention_days must be non-negative")
	}
	return nil
}

// SyncInterval returns the parsed sweep interval.
func (c *Config) SyncInterval() time.Duration {
	d, err := time.ParseDuration(c.Storage.Sync.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetConfigDir returns the XDG config directory for the application
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "planstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "planstore")
}

// GetDataDir returns the XDG data directory for the application
func GetDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "planstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "planstore")
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
