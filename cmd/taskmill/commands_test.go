package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskmill/internal/state"
)

func writeTestConfig(t *testing.T) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "taskmill.yaml")
	dataDir = filepath.Join(dir, "data")

	cfg := "data_dir: " + dataDir + "\n" +
		"tasks:\n" +
		"  - id: nightly-report\n" +
		"    prompt: write the report\n" +
		"    schedules:\n" +
		"      - \"0 2 * * *\"\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return cfgPath, dataDir
}

func openTestStore(t *testing.T, dataDir string) state.Store {
	t.Helper()
	store, err := state.NewSQLiteStore(context.Background(), filepath.Join(dataDir, "taskmill.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStopRejectsUnknownTask(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "stop", "nightly-reprot"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "not defined") {
		t.Fatalf("expected a not-defined error, got %v", err)
	}

	// The typo must not mint a state record.
	store := openTestStore(t, dataDir)
	if _, err := store.Load(context.Background(), "nightly-reprot"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected no record for the unknown id, got %v", err)
	}
}

func TestStopSetsFlagOnDefinedTask(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "stop", "nightly-report"})
	if err := root.Execute(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	store := openTestStore(t, dataDir)
	rec, err := store.Load(context.Background(), "nightly-report")
	if err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if !rec.StopRequested {
		t.Error("stop flag not set on the record")
	}
}
