// Package preflight provides readiness checks for the filesystem paths,
// binaries, and remote services fieldsync depends on.
//
// The daemon runs RunAll at startup and logs every failed check; nothing
// here blocks startup because an offline-first device must keep queueing
// work even when the authority or transcription service is unreachable.
// The CLI status command renders the same results.
package preflight
