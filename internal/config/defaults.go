package config

const (
	defaultConfigPath                 = "~/.config/fieldsync/config.toml"
	defaultDataDir                    = "~/.local/share/fieldsync"
	defaultLogDir                     = "~/.local/share/fieldsync/logs"
	defaultAPIBind                    = "127.0.0.1:7610"
	defaultMaxRetries                 = 3
	defaultBackoffBaseMillis          = 1000
	defaultBackoffMaxSeconds          = 30
	defaultPeriodicIntervalSeconds    = 60
	defaultConnectivityDebounceMillis = 2000
	defaultProbeIntervalSeconds       = 15
	defaultAuthorityDriver            = "http"
	defaultAuthorityTimeoutSeconds    = 15
	defaultAuthorityRequestsPerSecond = 10
	defaultAuthorityBurst             = 5
	defaultAuthorityHealthPath        = "/health"
	defaultAudioMaxItems              = 50
	defaultAudioRetentionHours        = 48
	defaultAudioTargetBytes           = 500 * 1024
	defaultAudioMaxBytes              = 5 * 1024 * 1024
	defaultAudioEncoder               = "auto"
	defaultFFmpegBinary               = "ffmpeg"
	defaultTranscriptionRetries       = 3
	defaultTranscriptionTimeout       = 120
	defaultArchiveRegion              = "us-east-1"
	defaultArchivePrefix              = "audio/"
	defaultNotifyTimeout              = 10
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultLogMaxSizeMB               = 10
	defaultLogMaxBackups              = 5
	defaultLogMaxAgeDays              = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Sync: Sync{
			MaxRetries:                 defaultMaxRetries,
			BackoffBaseMillis:          defaultBackoffBaseMillis,
			BackoffMaxSeconds:          defaultBackoffMaxSeconds,
			PeriodicIntervalSeconds:    defaultPeriodicIntervalSeconds,
			ConnectivityDebounceMillis: defaultConnectivityDebounceMillis,
			ProbeIntervalSeconds:       defaultProbeIntervalSeconds,
		},
		Authority: Authority{
			Driver:            defaultAuthorityDriver,
			TimeoutSeconds:    defaultAuthorityTimeoutSeconds,
			RequestsPerSecond: defaultAuthorityRequestsPerSecond,
			Burst:             defaultAuthorityBurst,
			HealthPath:        defaultAuthorityHealthPath,
		},
		Audio: Audio{
			MaxItems:                defaultAudioMaxItems,
			RetentionHours:          defaultAudioRetentionHours,
			TargetBytes:             defaultAudioTargetBytes,
			MaxBytes:                defaultAudioMaxBytes,
			Encoder:                 defaultAudioEncoder,
			FFmpegBinary:            defaultFFmpegBinary,
			MaxTranscriptionRetries: defaultTranscriptionRetries,
		},
		Transcription: Transcription{
			TimeoutSeconds: defaultTranscriptionTimeout,
		},
		Archive: Archive{
			Region: defaultArchiveRegion,
			Prefix: defaultArchivePrefix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Success:        true,
			Failure:        true,
			Queued:         false,
			Conflict:       true,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
