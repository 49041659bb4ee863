// Package voice turns queued audio captures into queued mutations.
//
// A Processor claims pending captures from the audio queue, sends each to a
// Transcriber, hands the transcript to an Extractor, and enqueues the
// resulting mutations on the offline queue so they sync like any other
// change. Transcribed captures can be archived to S3-compatible storage
// before the terminal sweep removes them from the device.
package voice
