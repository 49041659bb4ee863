package main

import (
	"context"
	"path/filepath"
	"testing"

	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

func TestLocalSyncRefusesWhileDaemonRuns(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"sync", "--local"}, "", env.configPath)
	if err == nil {
		t.Fatal("expected lock error while the daemon runs")
	}
	requireContains(t, err.Error(), "already running")
}

func TestLocalSyncRunsOnePass(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	if _, err := queue.New(st).Enqueue(context.Background(), queue.CreateRecord{
		Table:    "animals",
		TenantID: cfg.Device.TenantID,
		Data:     map[string]any{"earTag": "Z-2"},
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, _, err := runCLI(t, []string{"sync", "--local"}, "", configPath)
	if err != nil {
		t.Fatalf("sync --local: %v", err)
	}
	requireContains(t, out, "succeeded 1")
}
