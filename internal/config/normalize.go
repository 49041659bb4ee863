package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDevice()
	c.normalizeSync()
	c.normalizeAuthority()
	c.normalizeAudio()
	c.normalizeTranscription()
	c.normalizeArchive()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.InboxDir = strings.TrimSpace(c.Paths.InboxDir)
	if c.Paths.InboxDir, err = expandPath(c.Paths.InboxDir); err != nil {
		return fmt.Errorf("paths.audio_inbox_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("FIELDSYNC_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeDevice() {
	c.Device.DeviceID = strings.TrimSpace(c.Device.DeviceID)
	c.Device.TenantID = strings.TrimSpace(c.Device.TenantID)
	if c.Device.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Device.DeviceID = strings.TrimSpace(host)
		}
	}
}

func (c *Config) normalizeSync() {
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = defaultMaxRetries
	}
	if c.Sync.BackoffBaseMillis <= 0 {
		c.Sync.BackoffBaseMillis = defaultBackoffBaseMillis
	}
	if c.Sync.BackoffMaxSeconds <= 0 {
		c.Sync.BackoffMaxSeconds = defaultBackoffMaxSeconds
	}
	if c.Sync.PeriodicIntervalSeconds < 0 {
		c.Sync.PeriodicIntervalSeconds = 0
	}
	if c.Sync.ConnectivityDebounceMillis < 0 {
		c.Sync.ConnectivityDebounceMillis = 0
	}
	if c.Sync.ProbeIntervalSeconds <= 0 {
		c.Sync.ProbeIntervalSeconds = defaultProbeIntervalSeconds
	}
}

func (c *Config) normalizeAuthority() {
	c.Authority.Driver = strings.ToLower(strings.TrimSpace(c.Authority.Driver))
	if c.Authority.Driver == "" {
		c.Authority.Driver = defaultAuthorityDriver
	}
	c.Authority.BaseURL = strings.TrimRight(strings.TrimSpace(c.Authority.BaseURL), "/")
	c.Authority.APIKey = strings.TrimSpace(c.Authority.APIKey)
	if c.Authority.APIKey == "" {
		if value, ok := os.LookupEnv("FIELDSYNC_AUTHORITY_API_KEY"); ok {
			c.Authority.APIKey = strings.TrimSpace(value)
		}
	}
	c.Authority.DSN = strings.TrimSpace(c.Authority.DSN)
	if c.Authority.DSN == "" {
		if value, ok := os.LookupEnv("FIELDSYNC_AUTHORITY_DSN"); ok {
			c.Authority.DSN = strings.TrimSpace(value)
		}
	}
	if c.Authority.TimeoutSeconds <= 0 {
		c.Authority.TimeoutSeconds = defaultAuthorityTimeoutSeconds
	}
	if c.Authority.RequestsPerSecond <= 0 {
		c.Authority.RequestsPerSecond = defaultAuthorityRequestsPerSecond
	}
	if c.Authority.Burst <= 0 {
		c.Authority.Burst = defaultAuthorityBurst
	}
	c.Authority.HealthPath = strings.TrimSpace(c.Authority.HealthPath)
	if c.Authority.HealthPath == "" {
		c.Authority.HealthPath = defaultAuthorityHealthPath
	}
	if !strings.HasPrefix(c.Authority.HealthPath, "/") {
		c.Authority.HealthPath = "/" + c.Authority.HealthPath
	}
}

func (c *Config) normalizeAudio() {
	if c.Audio.MaxItems <= 0 {
		c.Audio.MaxItems = defaultAudioMaxItems
	}
	if c.Audio.RetentionHours <= 0 {
		c.Audio.RetentionHours = defaultAudioRetentionHours
	}
	if c.Audio.TargetBytes <= 0 {
		c.Audio.TargetBytes = defaultAudioTargetBytes
	}
	if c.Audio.MaxBytes <= 0 {
		c.Audio.MaxBytes = defaultAudioMaxBytes
	}
	c.Audio.Encoder = strings.ToLower(strings.TrimSpace(c.Audio.Encoder))
	if c.Audio.Encoder == "" {
		c.Audio.Encoder = defaultAudioEncoder
	}
	c.Audio.FFmpegBinary = strings.TrimSpace(c.Audio.FFmpegBinary)
	if c.Audio.FFmpegBinary == "" {
		c.Audio.FFmpegBinary = defaultFFmpegBinary
	}
	if c.Audio.MaxTranscriptionRetries <= 0 {
		c.Audio.MaxTranscriptionRetries = defaultTranscriptionRetries
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.URL = strings.TrimSpace(c.Transcription.URL)
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("FIELDSYNC_TRANSCRIPTION_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeout
	}
}

func (c *Config) normalizeArchive() {
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	c.Archive.Region = strings.TrimSpace(c.Archive.Region)
	if c.Archive.Region == "" {
		c.Archive.Region = defaultArchiveRegion
	}
	c.Archive.Endpoint = strings.TrimSpace(c.Archive.Endpoint)
	c.Archive.Prefix = strings.TrimLeft(strings.TrimSpace(c.Archive.Prefix), "/")
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
}
