package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Blob returns size bytes of a repeating pattern offset by seed, so blobs
// built with different seeds compare unequal.
func Blob(size int, seed byte) []byte {
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i%251) + seed
	}
	return buf
}

// WriteBlob writes data to path, creating parent directories.
func WriteBlob(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
