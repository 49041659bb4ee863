package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/services"
	"fieldsync/internal/store"
)

// ErrAudioTooLarge marks captures whose compressed size exceeds the hard cap.
var ErrAudioTooLarge = errors.New("audio too large")

// Queue stores captures awaiting transcription.
type Queue struct {
	store      *store.Store
	compressor Compressor
	logger     *slog.Logger
	now        func() time.Time

	maxItems    int
	targetBytes int64
	maxBytes    int64
	retention   time.Duration

	// mu serializes admission so the capacity check and eviction are atomic.
	mu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithCompressor overrides the admission compressor.
func WithCompressor(c Compressor) Option {
	return func(q *Queue) { q.compressor = c }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logging.NewComponentLogger(logger, "audio") }
}

// New returns a capture queue sized from cfg.
func New(st *store.Store, cfg config.Audio, opts ...Option) *Queue {
	q := &Queue{
		store:       st,
		logger:      logging.NewNop(),
		now:         time.Now,
		maxItems:    cfg.MaxItems,
		targetBytes: cfg.TargetBytes,
		maxBytes:    cfg.MaxBytes,
		retention:   time.Duration(cfg.RetentionHours) * time.Hour,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueueAudio compresses blob when it exceeds the target size and admits it.
// Admission fails with ErrAudioTooLarge when the stored size would exceed the
// hard cap. A full queue evicts its single oldest capture first.
func (q *Queue) QueueAudio(ctx context.Context, blob []byte, meta Metadata) (*Item, error) {
	if len(blob) == 0 {
		return nil, services.Wrap(services.ErrValidation, "audio", "queue", "empty recording", nil)
	}

	data := blob
	encoding := EncodingIdentity
	contentType := strings.TrimSpace(meta.ContentType)
	if q.targetBytes > 0 && int64(len(blob)) > q.targetBytes && q.compressor != nil {
		out, err := q.compressor.Compress(ctx, blob, contentType)
		switch {
		case err != nil:
			logging.WarnWithContext(q.logger, "audio compression failed; keeping original", "audio_compress_failed",
				logging.Error(err),
				logging.Int("bytes", len(blob)),
				logging.String(logging.FieldImpact, "capture stored uncompressed if under the size cap"),
			)
		case len(out.Data) < len(blob):
			data = out.Data
			encoding = out.Encoding
			if out.ContentType != "" {
				contentType = out.ContentType
			}
		}
	}
	if q.maxBytes > 0 && int64(len(data)) > q.maxBytes {
		return nil, services.Wrap(services.ErrCapacity, "audio", "queue",
			fmt.Sprintf("compressed size %d bytes exceeds limit %d", len(data), q.maxBytes), ErrAudioTooLarge)
	}

	now := q.now().UTC()
	item := &Item{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusPending,
		Metadata:      meta,
		Encoding:      encoding,
		ContentType:   contentType,
		OriginalBytes: len(blob),
		Size:          len(data),
		Blob:          data,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxItems > 0 {
		count, err := q.store.Count(ctx, store.Audio)
		if err != nil {
			return nil, err
		}
		if count >= q.maxItems {
			if err := q.evictOldest(ctx); err != nil {
				return nil, err
			}
		}
	}
	if err := q.put(ctx, item); err != nil {
		return nil, err
	}
	q.logger.Info("audio capture queued",
		logging.ItemID(item.ID),
		logging.String("encoding", string(encoding)),
		logging.Int("original_bytes", item.OriginalBytes),
		logging.Int("stored_bytes", item.Size),
	)
	return item, nil
}

func (q *Queue) evictOldest(ctx context.Context) error {
	oldest, err := q.store.Oldest(ctx, store.Audio)
	if err != nil || oldest == nil {
		return err
	}
	if err := q.store.Delete(ctx, store.Audio, oldest.ID); err != nil {
		return err
	}
	logging.WarnWithContext(q.logger, "audio queue at capacity; evicted oldest capture", "audio_evicted",
		logging.ItemID(oldest.ID),
		logging.String("status", oldest.Status),
		logging.String("created_at", oldest.CreatedAt.Format(time.RFC3339)),
		logging.Int("max_items", q.maxItems),
		logging.String(logging.FieldImpact, "evicted recording must be captured again"),
		logging.String(logging.FieldErrorHint, "sync more often or raise audio.max_items"),
	)
	return nil
}

// Get returns the capture with id, or nil when absent.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	rec, err := q.store.Get(ctx, store.Audio, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeItem(rec)
}

// ListPending returns pending captures oldest first.
func (q *Queue) ListPending(ctx context.Context) ([]*Item, error) {
	return q.List(ctx, StatusPending)
}

// List returns captures in the given statuses (all when none are given).
func (q *Queue) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	records, err := q.store.ListByStatus(ctx, store.Audio, values...)
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

// MarkTranscribing claims a pending capture.
func (q *Queue) MarkTranscribing(ctx context.Context, id string) (*Item, error) {
	return q.transition(ctx, id, "mark transcribing", []Status{StatusPending}, func(item *Item) {
		item.Status = StatusTranscribing
	})
}

// MarkTranscribed stores the transcript for a capture being transcribed.
func (q *Queue) MarkTranscribed(ctx context.Context, id, transcript string) (*Item, error) {
	return q.transition(ctx, id, "mark transcribed", []Status{StatusTranscribing}, func(item *Item) {
		item.Status = StatusTranscribed
		item.Transcript = transcript
		item.LastError = ""
	})
}

// MarkFailed records a failed attempt and counts it against the retry budget.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string) (*Item, error) {
	errMsg = strings.TrimSpace(errMsg)
	if errMsg == "" {
		return nil, services.Wrap(services.ErrValidation, "audio", "mark failed", "error message required", nil)
	}
	return q.transition(ctx, id, "mark failed", []Status{StatusPending, StatusTranscribing, StatusTranscribed}, func(item *Item) {
		item.Status = StatusFailed
		item.Retries++
		item.LastError = errMsg
	})
}

// ResetForRetry returns a failed capture to pending.
func (q *Queue) ResetForRetry(ctx context.Context, id string) (*Item, error) {
	return q.transition(ctx, id, "reset for retry", []Status{StatusFailed}, func(item *Item) {
		item.Status = StatusPending
	})
}

// ResetStuckTranscribing returns captures left transcribing by a crash to pending.
func (q *Queue) ResetStuckTranscribing(ctx context.Context) (int, error) {
	stuck, err := q.List(ctx, StatusTranscribing)
	if err != nil {
		return 0, err
	}
	for _, item := range stuck {
		if _, err := q.transition(ctx, item.ID, "reset stuck", []Status{StatusTranscribing}, func(item *Item) {
			item.Status = StatusPending
		}); err != nil {
			return 0, err
		}
	}
	return len(stuck), nil
}

// CleanupExpired purges captures older than the retention window.
func (q *Queue) CleanupExpired(ctx context.Context) (int, error) {
	if q.retention <= 0 {
		return 0, nil
	}
	ids, err := q.store.DeleteOlderThan(ctx, store.Audio, q.now().UTC().Add(-q.retention))
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		q.logger.Info("expired audio captures removed",
			logging.Int("count", len(ids)),
			logging.Duration("retention", q.retention),
		)
	}
	return len(ids), nil
}

// ClearTranscribed removes every transcribed capture.
func (q *Queue) ClearTranscribed(ctx context.Context) (int, error) {
	ids, err := q.store.DeleteByStatus(ctx, store.Audio, string(StatusTranscribed))
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Remove deletes a capture regardless of status.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Delete(ctx, store.Audio, id)
}

// StorageStats aggregates the capture queue.
func (q *Queue) StorageStats(ctx context.Context) (StorageStats, error) {
	raw, err := q.store.Stats(ctx, store.Audio)
	if err != nil {
		return StorageStats{}, err
	}
	return StorageStats{
		Count:        raw.Count,
		Pending:      raw.ByStatus[string(StatusPending)],
		Transcribing: raw.ByStatus[string(StatusTranscribing)],
		Transcribed:  raw.ByStatus[string(StatusTranscribed)],
		Failed:       raw.ByStatus[string(StatusFailed)],
		TotalBytes:   raw.BlobBytes,
		Oldest:       raw.Oldest,
	}, nil
}

func (q *Queue) transition(ctx context.Context, id, operation string, from []Status, fn func(*Item)) (*Item, error) {
	var result *Item
	_, err := q.store.Update(ctx, store.Audio, id, func(rec *store.Record) error {
		item, err := decodeItem(rec)
		if err != nil {
			return err
		}
		if !statusIn(item.Status, from) {
			return services.Wrap(services.ErrValidation, "audio", operation,
				fmt.Sprintf("capture %s is %s", id, item.Status), nil)
		}
		fn(item)
		item.UpdatedAt = q.now().UTC()
		body, err := json.Marshal(item)
		if err != nil {
			return services.Wrap(services.ErrValidation, "audio", "encode item", id, err)
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
		return services.Wrap(services.ErrValidation, "audio", "encode item", item.ID, err)
	}
	return q.store.Put(ctx, store.Audio, &store.Record{
		ID:        item.ID,
		Status:    string(item.Status),
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		Body:      body,
		Blob:      item.Blob,
	})
}

func decodeItem(rec *store.Record) (*Item, error) {
	var item Item
	if err := json.Unmarshal(rec.Body, &item); err != nil {
		return nil, services.Wrap(services.ErrFatal, "audio", "decode item", rec.ID, err)
	}
	item.ID = rec.ID
	item.Status = Status(rec.Status)
	item.CreatedAt = rec.CreatedAt
	item.Blob = rec.Blob
	return &item, nil
}

func statusIn(status Status, set []Status) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}
