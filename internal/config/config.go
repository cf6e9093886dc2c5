package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/dwell/config.yaml"

// Config holds all dwell configuration. UserSettings live in the store;
// the Tracking section only seeds their defaults.
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RetentionConfig struct {
	Days               int    `yaml:"days"`
	PruneIntervalHours int    `yaml:"prune_interval_hours"`
	CompactAfterDays   int    `yaml:"compact_after_days"`
	CompactMode        string `yaml:"compact_mode"`
}

type TrackingConfig struct {
	CollectData                bool     `yaml:"collect_data"`
	TrackPageViewDuration      bool     `yaml:"track_page_view_duration"`
	ExcludeIncognito           bool     `yaml:"exclude_incognito"`
	PauseOnInactivity          bool     `yaml:"pause_on_inactivity"`
	CollectionFrequency        string   `yaml:"collection_frequency"`
	InactivityThresholdMinutes int      `yaml:"inactivity_threshold_minutes"`
	ExcludedDomains            []string `yaml:"excluded_domains"`
	DomainMatch                string   `yaml:"domain_match"`
	DedupeIntervalSeconds      int      `yaml:"dedupe_interval_seconds"`
	SimilarityThreshold        float64  `yaml:"similarity_threshold"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	WriteBatchMillis  int    `yaml:"write_batch_millis"`
}

type DaemonConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxRequestSize int      `yaml:"max_request_size"`
	AlarmMinutes   int      `yaml:"alarm_minutes"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges that the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be positive, got %d", c.Retention.Days)
	}
	if c.Retention.CompactAfterDays <= 0 {
		return fmt.Errorf("retention.compact_after_days must be positive, got %d", c.Retention.CompactAfterDays)
	}
	switch c.Retention.CompactMode {
	case "duration", "span":
	default:
		return fmt.Errorf("retention.compact_mode must be duration or span, got %q", c.Retention.CompactMode)
	}
	if m := c.Tracking.InactivityThresholdMinutes; m < 1 || m > 15 {
		return fmt.Errorf("tracking.inactivity_threshold_minutes must be within 1-15, got %d", m)
	}
	switch c.Tracking.CollectionFrequency {
	case "hourly", "daily":
	default:
		return fmt.Errorf("tracking.collection_frequency must be hourly or daily, got %q", c.Tracking.CollectionFrequency)
	}
	switch c.Tracking.DomainMatch {
	case "suffix", "substring":
	default:
		return fmt.Errorf("tracking.domain_match must be suffix or substring, got %q", c.Tracking.DomainMatch)
	}
	if t := c.Tracking.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("tracking.similarity_threshold must be within (0, 1], got %v", t)
	}
	return nil
}

// DBPath returns the expanded SQLite database path.
func (c *Config) DBPath() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// ListenAddr returns host:port for the daemon.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Daemon.Host, c.Daemon.Port)
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
