package queue

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// allowedTransitions lists the only status moves SetStatus accepts.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusPending, StatusFailed},
	StatusFailed:     {StatusPending},
}

func canTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Item is one queued mutation.
type Item struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Status       Status          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error,omitempty"`
	OptimisticID string          `json:"optimistic_id,omitempty"`
	ConflictID   string          `json:"conflict_id,omitempty"`
	Summary      string          `json:"summary,omitempty"`
}

// Mutation decodes the item's payload into its variant.
func (i *Item) Mutation() (Mutation, error) {
	return DecodeMutation(i.Kind, i.Payload)
}

// IsTerminal reports whether the orchestrator will no longer touch the item.
func (i *Item) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// Stats summarizes the queue by status.
type Stats struct {
	Total      int       `json:"total"`
	Pending    int       `json:"pending"`
	Processing int       `json:"processing"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Oldest     time.Time `json:"oldest,omitempty"`
}
