package testsupport

import (
	"path/filepath"
	"testing"

	"fieldsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Backoff is shortened so retry paths finish quickly; authority defaults to
// the in-memory driver.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Device.DeviceID = "device-test"
	cfgVal.Device.TenantID = "farm-test"
	cfgVal.Authority.Driver = "memory"
	cfgVal.Sync.BackoffBaseMillis = 1
	cfgVal.Sync.BackoffMaxSeconds = 1
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDevice overrides the device and tenant identity.
func WithDevice(deviceID, tenantID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Device.DeviceID = deviceID
		b.cfg.Device.TenantID = tenantID
	}
}

// WithAudioLimits overrides the audio queue capacity and size cap.
func WithAudioLimits(maxItems int, maxBytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Audio.MaxItems = maxItems
		b.cfg.Audio.MaxBytes = maxBytes
	}
}

// WithInbox enables the audio inbox directory under the temp root.
func WithInbox() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.InboxDir = filepath.Join(b.baseDir, "inbox")
	}
}

// WithMaxRetries overrides the sync retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.MaxRetries = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
