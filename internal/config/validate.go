package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateAuthority(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxRetries < 1 {
		return errors.New("sync.max_retries must be at least 1")
	}
	if c.BackoffBase() > c.BackoffMax() {
		return fmt.Errorf("sync.backoff_base_ms (%d) must not exceed sync.backoff_max_seconds (%d)",
			c.Sync.BackoffBaseMillis, c.Sync.BackoffMaxSeconds)
	}
	return nil
}

func (c *Config) validateAuthority() error {
	switch c.Authority.Driver {
	case "memory":
		return nil
	case "http":
		if c.Authority.BaseURL == "" {
			return nil
		}
		parsed, err := url.Parse(c.Authority.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("authority.base_url %q must be an absolute URL", c.Authority.BaseURL)
		}
		return nil
	case "postgres":
		if c.Authority.DSN == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("authority.dsn is required for the postgres driver. Set FIELDSYNC_AUTHORITY_DSN or edit %s", defaultPath)
		}
		return nil
	default:
		return fmt.Errorf("authority.driver %q is not supported (use http, postgres, or memory)", c.Authority.Driver)
	}
}

func (c *Config) validateAudio() error {
	if c.Audio.TargetBytes > c.Audio.MaxBytes {
		return fmt.Errorf("audio.target_bytes (%d) must not exceed audio.max_bytes (%d)", c.Audio.TargetBytes, c.Audio.MaxBytes)
	}
	switch c.Audio.Encoder {
	case "auto", "ffmpeg", "zstd":
	default:
		return fmt.Errorf("audio.encoder %q is not supported (use auto, ffmpeg, or zstd)", c.Audio.Encoder)
	}
	return nil
}

func (c *Config) validateArchive() error {
	if !c.Archive.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Archive.Bucket) == "" {
		return errors.New("archive.bucket must be set when archive.enabled is true")
	}
	return nil
}
