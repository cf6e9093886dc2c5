package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Days:               30,
			PruneIntervalHours: 24,
			CompactAfterDays:   7,
			CompactMode:        "duration",
		},
		Tracking: TrackingConfig{
			CollectData:                true,
			TrackPageViewDuration:      true,
			ExcludeIncognito:           true,
			PauseOnInactivity:          true,
			CollectionFrequency:        "daily",
			InactivityThresholdMinutes: 5,
			ExcludedDomains:            DefaultExcludedDomains(),
			DomainMatch:                "suffix",
			DedupeIntervalSeconds:      300,
			SimilarityThreshold:        0.8,
		},
		Storage: StorageConfig{
			Path:              "~/.config/dwell",
			SQLiteFile:        "dwell.db",
			SQLiteJournalMode: "wal",
			CacheTTLSeconds:   300,
			WriteBatchMillis:  100,
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8721,
			AllowedOrigins: []string{"chrome-extension://*", "moz-extension://*"},
			MaxRequestSize: 1048576,
			AlarmMinutes:   15,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
		},
	}
}
