// Package daemon coordinates the long-running fieldsync process and its
// system integration points.
//
// It wires the local store, the mutation and audio queues, the sync manager,
// connectivity monitoring, and the audio inbox into a single lifecycle with
// flock-based locking to prevent multiple instances on one device. The daemon
// also serves the local HTTP API that on-device UIs and the CLI use to enqueue
// mutations, upload captures, inspect the queue, and resolve conflicts.
//
// Keep orchestration logic here: sync semantics live in workflow and the
// component packages while the daemon focuses on startup, shutdown, and
// routing requests to the right component.
package daemon
