package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/logs"
)

func TestLast(t *testing.T) {
	tests := []struct {
		name    string
		content string
		limit   int
		want    []string
	}{
		{"fewer than limit", "a\nb\n", 5, []string{"a", "b"}},
		{"trims to limit", "a\nb\nc\nd\n", 2, []string{"c", "d"}},
		{"zero limit", "a\n", 0, nil},
		{"unterminated last line", "a\nb", 1, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fieldsync.log")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write log: %v", err)
			}
			lines, offset, err := logs.Last(path, tt.limit)
			if err != nil {
				t.Fatalf("Last: %v", err)
			}
			if len(lines) != len(tt.want) {
				t.Fatalf("lines = %#v, want %#v", lines, tt.want)
			}
			for i := range lines {
				if lines[i] != tt.want[i] {
					t.Fatalf("lines = %#v, want %#v", lines, tt.want)
				}
			}
			if offset != int64(len(tt.content)) {
				t.Fatalf("offset = %d, want %d", offset, len(tt.content))
			}
		})
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 10)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("Last on missing file = %v, %d, %v", lines, offset, err)
	}
}

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestFollowEmitsAppendedLinesAndSurvivesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	if err := os.WriteFile(path, []byte("old line\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, err := logs.Last(path, 0)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := &collector{}
	done := make(chan error, 1)
	go func() { done <- logs.Follow(ctx, path, offset, got.add) }()

	appendLine(t, path, "first")
	waitForLines(t, got, 1)

	// Rotation leaves a shorter file at the same path.
	if err := os.WriteFile(path, []byte("r\n"), 0o644); err != nil {
		t.Fatalf("rotate log: %v", err)
	}
	waitForLines(t, got, 2)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	lines := got.snapshot()
	if lines[0] != "first" || lines[1] != "r" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func waitForLines(t *testing.T, c *collector, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(c.snapshot()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d lines, got %#v", n, c.snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
