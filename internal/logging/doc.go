// Package logging assembles structured slog loggers for fieldsync.
//
// It owns the console and JSON handlers, rotates the daemon log file, and
// exposes context-aware helpers so sync code tags log lines with item IDs,
// pass session IDs, and triggers. A no-op logger is provided for tests and
// wiring code that cannot fail.
package logging
