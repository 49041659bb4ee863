package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/services"
	"fieldsync/internal/store"
)

// Queue wraps the durable store for mutation items.
type Queue struct {
	store *store.Store
	now   func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the timestamp source used for new items.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New returns a Queue backed by st.
func New(st *store.Store, opts ...Option) *Queue {
	q := &Queue{store: st, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueConfig)

type enqueueConfig struct {
	itemID       string
	optimisticID string
}

// WithOptimisticID attaches the UI's optimistic render id.
func WithOptimisticID(id string) EnqueueOption {
	return func(c *enqueueConfig) { c.optimisticID = strings.TrimSpace(id) }
}

// WithItemID uses a caller-chosen item id. Enqueueing the same id twice
// returns the original item instead of creating a duplicate.
func WithItemID(id string) EnqueueOption {
	return func(c *enqueueConfig) { c.itemID = strings.TrimSpace(id) }
}

// Enqueue persists m as a pending item.
func (q *Queue) Enqueue(ctx context.Context, m Mutation, opts ...EnqueueOption) (*Item, error) {
	var cfg enqueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	kind, payload, err := EncodeMutation(m)
	if err != nil {
		return nil, err
	}

	if cfg.itemID != "" {
		existing, err := q.Get(ctx, cfg.itemID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	} else {
		cfg.itemID = uuid.NewString()
	}

	now := q.now().UTC()
	item := &Item{
		ID:           cfg.itemID,
		Kind:         kind,
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       StatusPending,
		OptimisticID: cfg.optimisticID,
	}
	if err := q.put(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Get returns the item with id, or nil when absent.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	rec, err := q.store.Get(ctx, store.Mutations, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeItem(rec)
}

// ListPending returns pending items oldest first.
func (q *Queue) ListPending(ctx context.Context) ([]*Item, error) {
	return q.List(ctx, StatusPending)
}

// List returns items in the given statuses (all when none are given), oldest first.
func (q *Queue) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	records, err := q.store.ListByStatus(ctx, store.Mutations, values...)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(records))
	for _, rec := range records {
		item, err := decodeItem(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// SetStatus moves id to status. Moving to failed requires errMsg.
func (q *Queue) SetStatus(ctx context.Context, id string, status Status, errMsg string) (*Item, error) {
	errMsg = strings.TrimSpace(errMsg)
	if status == StatusFailed && errMsg == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "set status", "failed status requires an error message", nil)
	}
	return q.update(ctx, id, func(item *Item) error {
		if !canTransition(item.Status, status) {
			return services.Wrap(services.ErrValidation, "queue", "set status",
				fmt.Sprintf("illegal transition %s -> %s for %s", item.Status, status, id), nil)
		}
		item.Status = status
		switch {
		case errMsg != "":
			item.LastError = errMsg
		case status == StatusProcessing:
		default:
			item.LastError = ""
		}
		return nil
	})
}

// Complete marks a processing item completed, recording the applier's summary
// and, when the write was deferred, the conflict that now owns it.
func (q *Queue) Complete(ctx context.Context, id, summary, conflictID string) (*Item, error) {
	return q.update(ctx, id, func(item *Item) error {
		if !canTransition(item.Status, StatusCompleted) {
			return services.Wrap(services.ErrValidation, "queue", "complete",
				fmt.Sprintf("illegal transition %s -> %s for %s", item.Status, StatusCompleted, id), nil)
		}
		item.Status = StatusCompleted
		item.Summary = summary
		item.ConflictID = conflictID
		item.LastError = ""
		return nil
	})
}

// IncrementRetry bumps the retry counter and returns the new value.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (int, error) {
	item, err := q.update(ctx, id, func(item *Item) error {
		item.RetryCount++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return item.RetryCount, nil
}

// Retry moves failed items back to pending with a fresh retry budget. With no
// ids every failed item is retried. It returns the number of items moved.
func (q *Queue) Retry(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		failed, err := q.List(ctx, StatusFailed)
		if err != nil {
			return 0, err
		}
		for _, item := range failed {
			ids = append(ids, item.ID)
		}
	}
	moved := 0
	for _, id := range ids {
		current, err := q.Get(ctx, id)
		if err != nil {
			return moved, err
		}
		if current == nil || current.Status != StatusFailed {
			continue
		}
		if _, err := q.update(ctx, id, func(item *Item) error {
			item.Status = StatusPending
			item.RetryCount = 0
			item.LastError = ""
			return nil
		}); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// ResetStuckProcessing returns items left in processing by a crash to pending.
func (q *Queue) ResetStuckProcessing(ctx context.Context) (int, error) {
	stuck, err := q.List(ctx, StatusProcessing)
	if err != nil {
		return 0, err
	}
	for _, item := range stuck {
		if _, err := q.update(ctx, item.ID, func(item *Item) error {
			item.Status = StatusPending
			return nil
		}); err != nil {
			return 0, err
		}
	}
	return len(stuck), nil
}

// Stats summarizes items by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	raw, err := q.store.Stats(ctx, store.Mutations)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Total:      raw.Count,
		Pending:    raw.ByStatus[string(StatusPending)],
		Processing: raw.ByStatus[string(StatusProcessing)],
		Completed:  raw.ByStatus[string(StatusCompleted)],
		Failed:     raw.ByStatus[string(StatusFailed)],
		Oldest:     raw.Oldest,
	}, nil
}

// ClearCompleted removes completed items and returns how many were removed.
func (q *Queue) ClearCompleted(ctx context.Context) (int, error) {
	ids, err := q.store.DeleteByStatus(ctx, store.Mutations, string(StatusCompleted))
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Remove deletes an item that is not currently being processed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	item, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	if item.Status == StatusProcessing {
		return false, services.Wrap(services.ErrValidation, "queue", "remove", "item "+id+" is processing", nil)
	}
	if err := q.store.Delete(ctx, store.Mutations, id); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) update(ctx context.Context, id string, fn func(*Item) error) (*Item, error) {
	var result *Item
	_, err := q.store.Update(ctx, store.Mutations, id, func(rec *store.Record) error {
		item, err := decodeItem(rec)
		if err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
		item.UpdatedAt = q.now().UTC()
		body, err := json.Marshal(item)
		if err != nil {
			return services.Wrap(services.ErrValidation, "queue", "encode item", id, err)
		}
		rec.Status = string(item.Status)
		rec.Body = body
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (q *Queue) put(ctx context.Context, item *Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "encode item", item.ID, err)
	}
	return q.store.Put(ctx, store.Mutations, &store.Record{
		ID:        item.ID,
		Status:    string(item.Status),
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		Body:      body,
	})
}

func decodeItem(rec *store.Record) (*Item, error) {
	var item Item
	if err := json.Unmarshal(rec.Body, &item); err != nil {
		return nil, services.Wrap(services.ErrFatal, "queue", "decode item", rec.ID, err)
	}
	item.ID = rec.ID
	item.Status = Status(rec.Status)
	item.CreatedAt = rec.CreatedAt
	return &item, nil
}
