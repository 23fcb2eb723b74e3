// Package config loads and validates the runtime core's configuration
// surface (§6): backend selection, persistence, hook timeouts, migration
// batching, cache sizing, and correlation bus capacity.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexlapax/statecore/internal/logging"
)

// Config holds the full runtime core configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Backend     BackendConfig     `yaml:"backend"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Hooks       HooksConfig       `yaml:"hooks"`
	Migration   MigrationConfig   `yaml:"migration"`
	Cache       CacheConfig       `yaml:"cache"`
	Correlation CorrelationConfig `yaml:"correlation"`

	Logging LoggingConfig `yaml:"logging"`

	CoreLimits CoreLimits `yaml:"core_limits" json:"core_limits"`
}

// BackendConfig selects the concrete backend factory (§6: backend.kind).
type BackendConfig struct {
	Kind string `yaml:"kind"` // memory | embedded | sql
	Path string `yaml:"path"` // file path for embedded/sql backends
}

// PersistenceConfig controls whether writes reach the durable backend at
// all, and the shared cap on event/hook-history size.
type PersistenceConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxHistorySize int  `yaml:"max_history_size"`
}

// HooksConfig controls the Hook Pipeline's timeout and failure behavior.
type HooksConfig struct {
	DefaultTimeoutMS int  `yaml:"default_timeout_ms"`
	FailFast         bool `yaml:"fail_fast"`
}

// MigrationConfig controls the Schema & Migration Engine's batching,
// rollback, and wall-clock behavior.
type MigrationConfig struct {
	BatchSize       int  `yaml:"batch_size"`
	RollbackOnError bool `yaml:"rollback_on_error"`
	TimeoutMS       int  `yaml:"timeout_ms"`
}

// CacheConfig bounds the State Manager's in-memory cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// CorrelationConfig bounds the Event & Correlation Bus's broadcast channel.
type CorrelationConfig struct {
	BroadcastCapacity int `yaml:"broadcast_capacity"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "statecore",
		Version: "0.1.0",

		Backend: BackendConfig{
			Kind: "memory",
			Path: "data/statecore.db",
		},

		Persistence: PersistenceConfig{
			Enabled:        true,
			MaxHistorySize: 1000,
		},

		Hooks: HooksConfig{
			DefaultTimeoutMS: 5000,
			FailFast:         false,
		},

		Migration: MigrationConfig{
			BatchSize:       500,
			RollbackOnError: true,
			TimeoutMS:       60000,
		},

		Cache: CacheConfig{
			MaxEntries: 100000,
		},

		Correlation: CorrelationConfig{
			BroadcastCapacity: 1024,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "statecore.log",
		},

		CoreLimits: CoreLimits{
			MaxCacheEntries:       100000,
			MaxHistoryEntries:     1000,
			MaxAgentMemoryMB:      512,
			MaxAgentConcurrency:   16,
			MaxAgentFileHandles:   64,
			MaxSessionDurationMin: 120,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: backend=%s persistence=%v", cfg.Backend.Kind, cfg.Persistence.Enabled)
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides, following the
// same override-only-if-set discipline as the teacher's config loader.
func (c *Config) applyEnvOverrides() {
	if kind := os.Getenv("STATECORE_BACKEND_KIND"); kind != "" {
		c.Backend.Kind = kind
	}
	if path := os.Getenv("STATECORE_BACKEND_PATH"); path != "" {
		c.Backend.Path = path
	}
	if v := os.Getenv("STATECORE_PERSISTENCE_ENABLED"); v != "" {
		c.Persistence.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("STATECORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ValidBackendKinds lists the recognized backend.kind values.
var ValidBackendKinds = []string{"memory", "embedded", "sql"}

// Validate validates the configuration against the §6 config surface.
func (c *Config) Validate() error {
	validKind := false
	for _, k := range ValidBackendKinds {
		if c.Backend.Kind == k {
			validKind = true
			break
		}
	}
	if !validKind {
		return fmt.Errorf("config: invalid backend.kind %q (valid: %v)", c.Backend.Kind, ValidBackendKinds)
	}
	if c.Hooks.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("config: hooks.default_timeout_ms must be > 0")
	}
	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("config: migration.batch_size must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: cache.max_entries must be > 0")
	}
	if c.Correlation.BroadcastCapacity <= 0 {
		return fmt.Errorf("config: correlation.broadcast_capacity must be > 0")
	}
	return c.ValidateCoreLimits()
}

// HookTimeout returns the configured per-hook timeout as a duration.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Hooks.DefaultTimeoutMS) * time.Millisecond
}

// MigrationTimeout returns the configured migration wall-clock cap.
func (c *Config) MigrationTimeout() time.Duration {
	return time.Duration(c.Migration.TimeoutMS) * time.Millisecond
}
