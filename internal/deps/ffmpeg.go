package deps

import "strings"

// FFmpegRequirement describes the audio re-encoder for the configured encoder
// mode. ffmpeg is only mandatory when the encoder is pinned to it; "auto"
// falls back to zstd and "zstd" never runs it.
func FFmpegRequirement(encoder, binary string) (Requirement, bool) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	switch strings.ToLower(strings.TrimSpace(encoder)) {
	case "zstd":
		return Requirement{}, false
	case "ffmpeg":
		return Requirement{
			Name:        "FFmpeg",
			Command:     binary,
			Description: "Required to re-encode oversized audio captures",
		}, true
	default:
		return Requirement{
			Name:        "FFmpeg",
			Command:     binary,
			Description: "Re-encodes oversized audio captures; zstd is used when missing",
			Optional:    true,
		}, true
	}
}
