// Package workflow drives queued mutations to a terminal state against the
// authority.
//
// The Manager runs one sync pass at a time. Passes start on connectivity
// regained, on a periodic timer while online, on manual request, and once at
// startup; triggers that arrive during a pass are coalesced into at most one
// follow-up pass. A pass snapshots the pending items and applies them in FIFO
// order, sequentially. Failed items go back to pending with an exponential
// backoff delay until the retry budget is spent, after which they are marked
// failed and announced. Errors authority.Retryable rejects spend the same
// budget without the delay. Items enqueued mid-pass wait for the next trigger.
//
// Each pass is described by an explicit Session value threaded through the
// pass; recent sessions are kept for status and handed to observers such as
// metrics and telemetry.
package workflow
