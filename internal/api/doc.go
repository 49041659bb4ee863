// Package api defines the wire-format types shared by the daemon's local HTTP
// API and its consumers (the fieldsync CLI and on-device UIs), plus a small
// client for talking to a running daemon.
//
// # Key Types
//
// EnqueueRequest: a mutation submitted by a UI. Mutation validates it and
// builds the matching queue.Mutation variant.
//
// QueueItem, AudioCapture, Conflict: transport representations of the
// local queue, capture and conflict models.
//
// DaemonStatus: running state, connectivity, last sync session and queue
// counts.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript consumers. Timestamps are
// RFC3339 with milliseconds. Mutation payloads are passed through as
// json.RawMessage so the API never re-encodes record data.
package api
