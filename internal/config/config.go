package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	InboxDir string `toml:"audio_inbox_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Device identifies this installation and the tenant it records for.
type Device struct {
	DeviceID string `toml:"device_id"`
	TenantID string `toml:"tenant_id"`
}

// Sync contains orchestrator retry and trigger timing.
type Sync struct {
	MaxRetries                 int  `toml:"max_retries"`
	BackoffBaseMillis          int  `toml:"backoff_base_ms"`
	BackoffMaxSeconds          int  `toml:"backoff_max_seconds"`
	PeriodicIntervalSeconds    int  `toml:"periodic_interval_seconds"`
	ConnectivityDebounceMillis int  `toml:"connectivity_debounce_ms"`
	ProbeIntervalSeconds       int  `toml:"probe_interval_seconds"`
	AutoMerge                  bool `toml:"auto_merge"`
}

// Authority contains connection settings for the remote system of record.
type Authority struct {
	Driver            string  `toml:"driver"`
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	DSN               string  `toml:"dsn"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	HealthPath        string  `toml:"health_path"`
}

// Audio contains admission limits for the audio capture queue.
type Audio struct {
	MaxItems                int    `toml:"max_items"`
	RetentionHours          int    `toml:"retention_hours"`
	TargetBytes             int64  `toml:"target_bytes"`
	MaxBytes                int64  `toml:"max_bytes"`
	Encoder                 string `toml:"encoder"`
	FFmpegBinary            string `toml:"ffmpeg_binary"`
	MaxTranscriptionRetries int    `toml:"max_transcription_retries"`
}

// Transcription contains the speech-to-text endpoint settings.
type Transcription struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Archive contains settings for the optional S3-compatible audio archive.
type Archive struct {
	Enabled   bool   `toml:"enabled"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	Prefix    string `toml:"prefix"`
	PathStyle bool   `toml:"path_style"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Success        bool   `toml:"success"`
	Failure        bool   `toml:"failure"`
	Queued         bool   `toml:"queued"`
	Conflict       bool   `toml:"conflict"`
}

// Metrics contains the Prometheus exporter bind address. Empty disables it.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Config encapsulates all configuration values for fieldsync.
//
// Configuration sections by subsystem:
//   - Paths: local data, logs, optional audio inbox, and API bind address
//   - Device: device and tenant identity
//   - Sync: retry budget, backoff, and trigger timing
//   - Authority: remote system of record connection
//   - Audio: capture queue limits and compression
//   - Transcription: speech-to-text endpoint
//   - Archive: S3-compatible audio archive
//   - Notifications: ntfy push notification settings
//   - Metrics: Prometheus exporter
//   - Logging: log format, level, and rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Device        Device        `toml:"device"`
	Sync          Sync          `toml:"sync"`
	Authority     Authority     `toml:"authority"`
	Audio         Audio         `toml:"audio"`
	Transcription Transcription `toml:"transcription"`
	Archive       Archive       `toml:"archive"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fieldsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.InboxDir) != "" {
		if err := os.MkdirAll(c.Paths.InboxDir, 0o755); err != nil {
			return fmt.Errorf("create audio inbox %q: %w", c.Paths.InboxDir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite database backing the local queues.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "fieldsync.db")
}

// LockPath returns the single-instance daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "fieldsyncd.lock")
}

// LogPath returns the rotated daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "fieldsync.log")
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Sync.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Sync.BackoffMaxSeconds) * time.Second
}

// PeriodicInterval returns the online sync timer interval.
func (c *Config) PeriodicInterval() time.Duration {
	return time.Duration(c.Sync.PeriodicIntervalSeconds) * time.Second
}

// ConnectivityDebounce returns how long connectivity must hold before a pass starts.
func (c *Config) ConnectivityDebounce() time.Duration {
	return time.Duration(c.Sync.ConnectivityDebounceMillis) * time.Millisecond
}

// ProbeInterval returns how often authority reachability is probed.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}

// AudioRetention returns the audio capture retention window.
func (c *Config) AudioRetention() time.Duration {
	return time.Duration(c.Audio.RetentionHours) * time.Hour
}

// AuthorityTimeout returns the per-request authority timeout.
func (c *Config) AuthorityTimeout() time.Duration {
	return time.Duration(c.Authority.TimeoutSeconds) * time.Second
}

// TranscriptionTimeout returns the per-request transcription timeout.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
// A non-empty deviceID is written into the [device] section so the identity
// survives hostname changes.
func CreateSample(path, deviceID string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	contents := sampleConfig
	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		contents = strings.Replace(contents, `device_id = ""`, fmt.Sprintf("device_id = %q", deviceID), 1)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
