// Package store persists fieldsync's local collections in SQLite.
//
// Every collection shares one row shape: a client-generated id, a status
// string indexed for ListByStatus, fixed-width UTC timestamps so created_at
// sorts lexicographically, a JSON body owned by the caller, and an optional
// binary blob. Each Put is a single atomic statement, so a crash between puts
// never leaves a half-written record behind.
//
// Higher layers (queue, audio, conflict) own the meaning of the body and the
// status values; this package only guarantees durability and ordering.
package store
