package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func resetLoggingState(t *testing.T) {
	t.Helper()
	CloseAll()
	configMu.Lock()
	config = loggingConfig{}
	configLoaded = false
	configMu.Unlock()
	logsDir = ""
	workspace = ""
}

func TestAllCategoriesLog(t *testing.T) {
	resetLoggingState(t)
	tempDir := t.TempDir()

	ApplyConfig(true, "debug", false, nil)
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	categories := []Category{
		CategoryBoot, CategoryScope, CategoryBackend, CategoryHooks,
		CategoryEvents, CategoryState, CategorySchema, CategoryMigration,
		CategoryAgent,
	}
	for _, cat := range categories {
		Get(cat).Info("hello from %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".state", "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < len(categories) {
		t.Errorf("expected at least %d log files, found %d", len(categories), len(entries))
	}
}

func TestDebugModeDisabled_NoOp(t *testing.T) {
	resetLoggingState(t)
	tempDir := t.TempDir()

	ApplyConfig(false, "info", false, nil)
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Get(CategoryState).Info("should not be written")

	if _, err := os.Stat(filepath.Join(tempDir, ".state", "logs")); !os.IsNotExist(err) {
		t.Errorf("expected no logs directory in non-debug mode, stat err=%v", err)
	}
}

func TestIsCategoryEnabled_PerCategoryOverride(t *testing.T) {
	resetLoggingState(t)
	ApplyConfig(true, "debug", false, map[string]bool{"state": false})

	if IsCategoryEnabled(CategoryState) {
		t.Errorf("expected state category to be disabled")
	}
	if !IsCategoryEnabled(CategoryHooks) {
		t.Errorf("expected hooks category to default to enabled")
	}
}

func TestTimer_StopReturnsElapsed(t *testing.T) {
	resetLoggingState(t)
	ApplyConfig(false, "info", false, nil)
	timer := StartTimer(CategoryState, "test-op")
	elapsed := timer.Stop()
	if elapsed < 0 {
		t.Errorf("expected non-negative elapsed duration, got %v", elapsed)
	}
}
