package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/authority"
	"fieldsync/internal/testsupport"
)

func TestEnqueueSyncAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"enqueue", "create", "--table", "animals", "--data", `{"earTag":"C-3"}`, "--optimistic-id", "tmp-9"},
		env.apiAddress, env.configPath)
	if err != nil {
		t.Fatalf("enqueue create: %v", err)
	}
	requireContains(t, out, "Queued create")

	if out, _, err = runCLI(t, []string{"sync"}, env.apiAddress, env.configPath); err != nil {
		t.Fatalf("sync: %v", err)
	}
	requireContains(t, out, "Sync pass")

	waitFor(t, 5*time.Second, func() bool {
		return len(env.authority.Rows("animals")) == 1
	})

	out, _, err = runCLI(t, []string{"queue", "list", "--json"}, env.apiAddress, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var items []api.QueueItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode list: %v (%s)", err, out)
	}
	if len(items) != 1 || items[0].OptimisticID != "tmp-9" {
		t.Fatalf("unexpected items: %#v", items)
	}

	waitFor(t, 5*time.Second, func() bool {
		out, _, err := runCLI(t, []string{"queue", "status"}, env.apiAddress, env.configPath)
		return err == nil && strings.Contains(out, "completed")
	})

	out, _, err = runCLI(t, []string{"queue", "clear-completed"}, env.apiAddress, env.configPath)
	if err != nil {
		t.Fatalf("clear-completed: %v", err)
	}
	requireContains(t, out, "Removed 1 completed")
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing data", []string{"enqueue", "create", "--table", "animals"}},
		{"data not an object", []string{"enqueue", "create", "--table", "animals", "--data", `[1,2]`}},
		{"missing table", []string{"enqueue", "create", "--data", `{"a":1}`}},
		{"update without base", []string{"enqueue", "update", "--table", "animals", "--record", "r1", "--data", `{"a":1}`}},
		{"update bad timestamp", []string{"enqueue", "update", "--table", "animals", "--record", "r1", "--data", `{"a":1}`, "--base-updated-at", "yesterday"}},
	}
	env := setupCLITestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := runCLI(t, tt.args, env.apiAddress, env.configPath); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestQueueRetryResetsFailedItems(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithMaxRetries(1))
	env.authority.FailNext(&authority.Error{Code: authority.CodeValidation, Message: "rejected"})

	if _, _, err := runCLI(t, []string{"enqueue", "create", "--table", "animals", "--data", `{"earTag":"F-1"}`},
		env.apiAddress, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := runCLI(t, []string{"sync"}, env.apiAddress, env.configPath); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		out, _, err := runCLI(t, []string{"queue", "list", "--status", "failed", "--json"}, env.apiAddress, env.configPath)
		return err == nil && strings.Contains(out, "rejected")
	})

	out, _, err := runCLI(t, []string{"queue", "retry"}, env.apiAddress, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Reset 1 failed")

	if _, _, err := runCLI(t, []string{"sync"}, env.apiAddress, env.configPath); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return len(env.authority.Rows("animals")) == 1
	})
}

func TestCommandsExplainUnreachableDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	address := env.apiAddress
	env.daemon.Stop()

	_, _, err := runCLI(t, []string{"queue", "list"}, address, env.configPath)
	if err == nil {
		t.Fatal("expected an error with the daemon stopped")
	}
	requireContains(t, err.Error(), "fieldsync daemon")
	if code := exitCode(err); code != exitDaemonUnreachable {
		t.Fatalf("exit code = %d, want %d", code, exitDaemonUnreachable)
	}

	// The written config disables the API, so no --api means no address at all.
	_, _, err = runCLI(t, []string{"queue", "list"}, "", env.configPath)
	if err == nil {
		t.Fatal("expected an error without an API address")
	}
	requireContains(t, err.Error(), "api_bind is empty")
}
