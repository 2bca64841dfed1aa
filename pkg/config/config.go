// Package config loads and validates the runtime configuration.
//
// Configuration is resolved from, in increasing precedence: built-in
// defaults, an optional YAML config file, and FLOWKIT_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yukkuristudio/flowkit/pkg/errors"
)

// Default configuration values.
const (
	// DefaultMaxConcurrentSteps bounds intra-phase step concurrency.
	DefaultMaxConcurrentSteps = 3

	// DefaultTimeoutSeconds bounds a single step attempt.
	DefaultTimeoutSeconds = 300

	// DefaultMaxEventHistory bounds the progress monitor's event history.
	DefaultMaxEventHistory = 1000

	// DefaultSubscriberCleanupIntervalSeconds is how often inactive progress
	// subscribers are pruned.
	DefaultSubscriberCleanupIntervalSeconds = 300

	// DefaultBaseDirectory is where project directories are created.
	DefaultBaseDirectory = "projects"

	// DefaultDatabasePath is the SQLite metadata database location.
	DefaultDatabasePath = "projects/flowkit.db"
)

// Config is the runtime configuration.
type Config struct {
	// MaxConcurrentSteps is the intra-phase concurrency ceiling. Minimum 1.
	MaxConcurrentSteps int `mapstructure:"max_concurrent_steps"`

	// DefaultTimeoutSeconds is the per-step timeout in seconds. Minimum 1.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`

	// MaxEventHistory is the progress event history size. Minimum 0.
	MaxEventHistory int `mapstructure:"max_event_history"`

	// SubscriberCleanupIntervalSeconds is the subscriber prune interval in
	// seconds. Minimum 1.
	SubscriberCleanupIntervalSeconds int `mapstructure:"subscriber_cleanup_interval_seconds"`

	// BaseDirectory is the root under which project directories live.
	BaseDirectory string `mapstructure:"base_directory"`

	// DatabasePath is the SQLite metadata database file.
	DatabasePath string `mapstructure:"database_path"`
}

// Default returns a fully populated configuration with default values.
func Default() *Config {
	return &Config{
		MaxConcurrentSteps:               DefaultMaxConcurrentSteps,
		DefaultTimeoutSeconds:            DefaultTimeoutSeconds,
		MaxEventHistory:                  DefaultMaxEventHistory,
		SubscriberCleanupIntervalSeconds: DefaultSubscriberCleanupIntervalSeconds,
		BaseDirectory:                    DefaultBaseDirectory,
		DatabasePath:                     DefaultDatabasePath,
	}
}

// Load resolves the configuration from defaults, the optional config file at
// path, and FLOWKIT_* environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOWKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigurationError("config_file",
				fmt.Sprintf("failed to read config file %s: %v", path, err), "yaml")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigurationError("config_file",
			fmt.Sprintf("failed to parse configuration: %v", err), "yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent_steps", DefaultMaxConcurrentSteps)
	v.SetDefault("default_timeout_seconds", DefaultTimeoutSeconds)
	v.SetDefault("max_event_history", DefaultMaxEventHistory)
	v.SetDefault("subscriber_cleanup_interval_seconds", DefaultSubscriberCleanupIntervalSeconds)
	v.SetDefault("base_directory", DefaultBaseDirectory)
	v.SetDefault("database_path", DefaultDatabasePath)
}

// Validate checks every configuration value against its allowed range.
func (c *Config) Validate() error {
	if c.MaxConcurrentSteps < 1 {
		return errors.NewConfigurationError("max_concurrent_steps",
			fmt.Sprintf("must be at least 1, got %d", c.MaxConcurrentSteps), "int")
	}
	if c.DefaultTimeoutSeconds < 1 {
		return errors.NewConfigurationError("default_timeout_seconds",
			fmt.Sprintf("must be at least 1, got %d", c.DefaultTimeoutSeconds), "int")
	}
	if c.MaxEventHistory < 0 {
		return errors.NewConfigurationError("max_event_history",
			fmt.Sprintf("cannot be negative, got %d", c.MaxEventHistory), "int")
	}
	if c.SubscriberCleanupIntervalSeconds < 1 {
		return errors.NewConfigurationError("subscriber_cleanup_interval_seconds",
			fmt.Sprintf("must be at least 1, got %d", c.SubscriberCleanupIntervalSeconds), "int")
	}
	if c.BaseDirectory == "" {
		return errors.NewConfigurationError("base_directory", "cannot be empty", "path")
	}
	if c.DatabasePath == "" {
		return errors.NewConfigurationError("database_path", "cannot be empty", "path")
	}
	return nil
}

// DefaultStepTimeout returns the per-step timeout as a duration.
func (c *Config) DefaultStepTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// SubscriberCleanupInterval returns the prune interval as a duration.
func (c *Config) SubscriberCleanupInterval() time.Duration {
	return time.Duration(c.SubscriberCleanupIntervalSeconds) * time.Second
}
