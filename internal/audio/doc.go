// Package audio is the bounded capture queue for recordings awaiting
// transcription.
//
// Admission compresses recordings above the target size and rejects anything
// still above the hard cap with ErrAudioTooLarge. The queue holds at most
// MaxItems captures; admitting one more evicts the single oldest. Captures
// older than the retention window are purged by CleanupExpired, and
// transcribed captures are swept by ClearTranscribed once they have been
// converted into mutations.
//
// Lifecycle: pending → transcribing → transcribed, or → failed, which
// ResetForRetry returns to pending.
package audio
