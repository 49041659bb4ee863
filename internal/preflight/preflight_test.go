package preflight_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"fieldsync/internal/preflight"
	"fieldsync/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		pass bool
	}{
		{"temp dir", dir, true},
		{"missing", filepath.Join(dir, "nope"), false},
		{"file", file, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := preflight.CheckDirectoryAccess("test", tt.path)
			if result.Passed != tt.pass {
				t.Fatalf("passed = %v, detail %q", result.Passed, result.Detail)
			}
			if result.Detail == "" {
				t.Fatal("expected non-empty detail")
			}
		})
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected a temp dir to have a byte free: %s", result.Detail)
	}
	if result := preflight.CheckFreeSpace("space", dir, ^uint64(0)); result.Passed {
		t.Fatal("no filesystem has that much room")
	}
	if result := preflight.CheckFreeSpace("space", filepath.Join(dir, "nope"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

type healthFunc func(context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func TestCheckAuthority(t *testing.T) {
	ok := preflight.CheckAuthority(context.Background(), healthFunc(func(context.Context) error { return nil }))
	if !ok.Passed {
		t.Fatalf("expected pass, got %q", ok.Detail)
	}
	down := preflight.CheckAuthority(context.Background(), healthFunc(func(context.Context) error { return errors.New("connection refused") }))
	if down.Passed || !down.Optional || down.Detail != "connection refused" {
		t.Fatalf("unreachable authority = %#v", down)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	url := srv.URL
	if result := preflight.CheckEndpoint(context.Background(), "svc", url); !result.Passed {
		t.Fatalf("any response should count as reachable: %q", result.Detail)
	}
	srv.Close()
	if result := preflight.CheckEndpoint(context.Background(), "svc", url); result.Passed {
		t.Fatal("closed server should fail")
	}
	if result := preflight.CheckEndpoint(context.Background(), "svc", " "); result.Passed {
		t.Fatal("blank url should fail")
	}
}

func TestRunAllCoversConfiguredPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithInbox())
	cfg.Audio.Encoder = "zstd"
	if err := os.MkdirAll(cfg.Paths.InboxDir, 0o755); err != nil {
		t.Fatal(err)
	}

	results := preflight.RunAll(context.Background(), cfg)
	names := make(map[string]preflight.Result, len(results))
	for _, r := range results {
		names[r.Name] = r
	}
	for _, want := range []string{"Data directory", "Data directory space", "Log directory", "Audio inbox"} {
		r, ok := names[want]
		if !ok {
			t.Fatalf("missing check %q in %#v", want, results)
		}
		if !r.Passed {
			t.Fatalf("check %q failed: %s", want, r.Detail)
		}
	}
	if _, ok := names["FFmpeg"]; ok {
		t.Fatal("zstd encoder should not require ffmpeg")
	}
	if failed := preflight.Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}
