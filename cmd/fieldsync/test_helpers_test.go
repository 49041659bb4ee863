package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/authority"
	"fieldsync/internal/config"
	"fieldsync/internal/daemon"
	"fieldsync/internal/daemonrun"
	"fieldsync/internal/logging"
	"fieldsync/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	authority  *authority.Memory
	apiAddress string
	configPath string
}

// setupCLITestEnv starts an assembled daemon on a loopback port backed by the
// in-memory authority. The authority advertises no optional capabilities so
// only record writes reach it.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Audio.Encoder = "zstd"
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	mem := authority.NewMemory(authority.WithMemoryCapabilities(authority.Capabilities{}))
	d, err := daemonrun.Assemble(context.Background(), cfg, st, mem, logging.NewNop())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		authority:  mem,
		apiAddress: d.APIAddress(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, apiAddress, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if apiAddress != "" {
		flags = append(flags, "--api", apiAddress)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = ""

[device]
device_id = %q
tenant_id = %q

[authority]
driver = "memory"

[audio]
encoder = "zstd"
`,
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Device.DeviceID,
		cfg.Device.TenantID,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
