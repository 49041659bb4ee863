// Package main hosts the fieldsync CLI entrypoint and command graph.
//
// The Cobra command tree runs the sync daemon in the foreground and translates
// queue, audio, and conflict operations into calls against the daemon's local
// HTTP API. Configuration resolution and API discovery live in the command
// context so subcommands only deal with presentation.
package main
