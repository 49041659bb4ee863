package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/zstd"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
)

// Compressed is the output of a Compressor.
type Compressed struct {
	Data        []byte
	Encoding    Encoding
	ContentType string
}

// Compressor shrinks a recording before admission.
type Compressor interface {
	Compress(ctx context.Context, data []byte, contentType string) (Compressed, error)
}

// FFmpegCompressor re-encodes recordings to mono 16kHz Opus in an Ogg container.
type FFmpegCompressor struct {
	Binary  string
	Bitrate string
}

// Compress pipes data through ffmpeg.
func (c FFmpegCompressor) Compress(ctx context.Context, data []byte, _ string) (Compressed, error) {
	binary := strings.TrimSpace(c.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	bitrate := c.Bitrate
	if bitrate == "" {
		bitrate = "24k"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn", "-ac", "1", "-ar", "16000",
		"-c:a", "libopus", "-b:a", bitrate,
		"-f", "ogg", "pipe:1",
	}
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Compressed{}, fmt.Errorf("ffmpeg re-encode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return Compressed{}, fmt.Errorf("ffmpeg re-encode: empty output")
	}
	return Compressed{Data: stdout.Bytes(), Encoding: EncodingOpus, ContentType: "audio/ogg"}, nil
}

// ZstdCompressor stores recordings zstd-compressed without touching the audio.
type ZstdCompressor struct {
	encoder *zstd.Encoder
}

// NewZstdCompressor builds a reusable encoder.
func NewZstdCompressor() (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &ZstdCompressor{encoder: enc}, nil
}

// Compress encodes data in one shot.
func (c *ZstdCompressor) Compress(_ context.Context, data []byte, contentType string) (Compressed, error) {
	out := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	return Compressed{Data: out, Encoding: EncodingZstd, ContentType: contentType}, nil
}

// fallbackCompressor tries primary and falls back to secondary on error.
type fallbackCompressor struct {
	primary   Compressor
	secondary Compressor
	logger    *slog.Logger
}

func (c fallbackCompressor) Compress(ctx context.Context, data []byte, contentType string) (Compressed, error) {
	out, err := c.primary.Compress(ctx, data, contentType)
	if err == nil {
		return out, nil
	}
	c.logger.Debug("primary audio encoder failed; using zstd", logging.Error(err))
	return c.secondary.Compress(ctx, data, contentType)
}

// NewCompressor selects a compressor for the configured encoder. "auto"
// prefers ffmpeg when it is installed and falls back to zstd.
func NewCompressor(cfg config.Audio, logger *slog.Logger) (Compressor, error) {
	logger = logging.NewComponentLogger(logger, "audio")
	encoder := strings.ToLower(strings.TrimSpace(cfg.Encoder))
	switch encoder {
	case "zstd":
		return NewZstdCompressor()
	case "ffmpeg":
		if _, err := exec.LookPath(cfg.FFmpegBinary); err != nil {
			return nil, fmt.Errorf("audio encoder ffmpeg: binary %q not found", cfg.FFmpegBinary)
		}
		return FFmpegCompressor{Binary: cfg.FFmpegBinary}, nil
	case "", "auto":
		zc, err := NewZstdCompressor()
		if err != nil {
			return nil, err
		}
		if _, err := exec.LookPath(cfg.FFmpegBinary); err != nil {
			logger.Info("ffmpeg not found; audio captures will be zstd compressed",
				logging.String("binary", cfg.FFmpegBinary))
			return zc, nil
		}
		return fallbackCompressor{primary: FFmpegCompressor{Binary: cfg.FFmpegBinary}, secondary: zc, logger: logger}, nil
	default:
		return nil, fmt.Errorf("audio encoder: unsupported value %q", cfg.Encoder)
	}
}

var zstdDecoder, _ = zstd.NewReader(nil)

// Decode returns the bytes to send for transcription and their content type.
func Decode(item *Item) ([]byte, string, error) {
	if item == nil {
		return nil, "", fmt.Errorf("audio item is nil")
	}
	switch item.Encoding {
	case EncodingZstd:
		data, err := zstdDecoder.DecodeAll(item.Blob, nil)
		if err != nil {
			return nil, "", fmt.Errorf("decode zstd capture %s: %w", item.ID, err)
		}
		return data, item.ContentType, nil
	default:
		return item.Blob, item.ContentType, nil
	}
}
