package preflight

import (
	"context"
	"strings"

	"fieldsync/internal/config"
	"fieldsync/internal/deps"
)

// minFreeBytes is the free space below which the data directory check fails.
const minFreeBytes = 64 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckFreeSpace("Data directory space", cfg.Paths.DataDir, minFreeBytes))

	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.Paths.InboxDir != "" {
		results = append(results, CheckDirectoryAccess("Audio inbox", cfg.Paths.InboxDir))
	}

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
		}
		results = append(results, result)
	}

	if url := strings.TrimSpace(cfg.Transcription.URL); url != "" {
		results = append(results, CheckEndpoint(ctx, "Transcription service", url))
	}
	return results
}

// CheckSystemDeps evaluates the external binaries the configuration uses.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	if req, ok := deps.FFmpegRequirement(cfg.Audio.Encoder, cfg.Audio.FFmpegBinary); ok {
		requirements = append(requirements, req)
	}
	return deps.CheckBinaries(requirements)
}

// Failed returns the checks that did not pass, optional ones included.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
