// Package queue is the offline mutation queue.
//
// Callers enqueue a Mutation (a closed set of variants, each carrying its own
// payload type); the queue persists it as a pending Item in the local store
// and exposes the status transitions and retry counters the sync orchestrator
// drives. Items move pending → processing → completed, fall back from
// processing to pending on a retryable failure, and land in failed once the
// retry budget is spent. Only a manual Retry moves an item out of failed.
//
// ListPending is strictly FIFO by enqueue time; retries never reorder items.
package queue
