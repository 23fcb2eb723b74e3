package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "statecore" {
		t.Errorf("expected Name=statecore, got %s", cfg.Name)
	}
	if cfg.Backend.Kind != "memory" {
		t.Errorf("expected Backend.Kind=memory, got %s", cfg.Backend.Kind)
	}
	if cfg.Hooks.DefaultTimeoutMS != 5000 {
		t.Errorf("expected Hooks.DefaultTimeoutMS=5000, got %d", cfg.Hooks.DefaultTimeoutMS)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Backend.Kind = "sql"
	cfg.Backend.Path = "data/custom.db"
	cfg.Migration.BatchSize = 250

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Backend.Kind != "sql" {
		t.Errorf("expected Backend.Kind=sql, got %s", loaded.Backend.Kind)
	}
	if loaded.Migration.BatchSize != 250 {
		t.Errorf("expected Migration.BatchSize=250, got %d", loaded.Migration.BatchSize)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if cfg.Backend.Kind != "memory" {
		t.Errorf("expected defaults, got Backend.Kind=%s", cfg.Backend.Kind)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STATECORE_BACKEND_KIND", "sql")
	t.Setenv("STATECORE_BACKEND_PATH", "/tmp/state.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Backend.Kind != "sql" {
		t.Errorf("expected Backend.Kind=sql, got %s", cfg.Backend.Kind)
	}
	if cfg.Backend.Path != "/tmp/state.db" {
		t.Errorf("expected Backend.Path=/tmp/state.db, got %s", cfg.Backend.Path)
	}
}

func TestConfig_Validate_RejectsUnknownBackendKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Kind = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid backend.kind")
	}
}

func TestConfig_Validate_RejectsNonPositiveHookTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hooks.DefaultTimeoutMS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero hook timeout")
	}
}

func TestConfig_TimeoutHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HookTimeout() != 5000*1_000_000 {
		t.Errorf("unexpected HookTimeout: %v", cfg.HookTimeout())
	}
	if cfg.MigrationTimeout() <= 0 {
		t.Errorf("expected positive MigrationTimeout")
	}
}
