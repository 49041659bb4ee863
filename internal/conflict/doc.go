// Package conflict detects divergence between a client's base view of a
// record and the authority's current copy, and carries each detected
// conflict through resolution to a single deferred write.
//
// Conflicts are persisted in the local store so they survive restarts and
// are mirrored to the authority's sync_conflicts table when the authority
// advertises it, which makes pending conflicts visible to other devices of
// the same tenant.
package conflict
