package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// Dispatcher sends notifications on detached goroutines. Delivery is
// non-critical: failures are logged and dropped, and the caller never waits.
type Dispatcher struct {
	service Service
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps svc. A nil svc behaves like the noop service.
func NewDispatcher(svc Service, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if svc == nil {
		svc = noopService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		service: svc,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		timeout: timeout,
	}
}

// Success announces a synced item.
func (d *Dispatcher) Success(kind queue.Kind, summary string) {
	d.dispatch("success", func(ctx context.Context) error {
		return d.service.NotifySuccess(ctx, kind, summary)
	})
}

// Failure announces items that exhausted their retries.
func (d *Dispatcher) Failure(itemCount int, itemID, reason string) {
	d.dispatch("failure", func(ctx context.Context) error {
		return d.service.NotifyFailure(ctx, itemCount, itemID, reason)
	})
}

// Queued announces an item saved for later sync.
func (d *Dispatcher) Queued(kind queue.Kind) {
	d.dispatch("queued", func(ctx context.Context) error {
		return d.service.NotifyQueued(ctx, kind)
	})
}

// Conflict announces a write held for review.
func (d *Dispatcher) Conflict(table, recordID, conflictID string) {
	d.dispatch("conflict", func(ctx context.Context) error {
		return d.service.NotifyConflict(ctx, table, recordID, conflictID)
	})
}

// PassCompleted announces the outcome of a sync pass.
func (d *Dispatcher) PassCompleted(succeeded, failed int, duration time.Duration) {
	d.dispatch("pass_completed", func(ctx context.Context) error {
		return d.service.NotifyPassCompleted(ctx, succeeded, failed, duration)
	})
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(event string, send func(context.Context) error) {
	if d == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			d.logger.Warn("notification failed",
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String("notification", event),
				logging.Error(err),
				logging.String(logging.FieldImpact, "sync outcome not announced"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
			)
		}
	}()
}
