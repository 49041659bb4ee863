// Package services defines the shared error taxonomy and context helpers used
// by the sync pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, sync session IDs, triggers,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (transient, conflict, validation, capacity, fatal) with
//     errors.Is instead of string matching.
//
// Appliers and authority clients return errors tagged with these markers; the
// sync orchestrator only asks whether a failure is fatal to the local store.
package services
