// Package notifications delivers sync outcome messages to ntfy.
//
// NewService returns an ntfy-backed Service when a topic is configured and a
// noop implementation otherwise. Callers on the sync path wrap the Service in
// a Dispatcher so delivery runs detached from the pass: a slow or failing
// ntfy endpoint only produces a log line and never delays or fails a sync.
package notifications
