package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
)

const sessionHistory = 20

// Manager coordinates sync passes over the mutation queue.
type Manager struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	notifier *notifications.Dispatcher

	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	periodic    time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	triggers chan Trigger
	passMu   sync.Mutex

	mu         sync.RWMutex
	running    bool
	passActive bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastErr    error
	sessions   []Session
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the session timestamp source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleep overrides how the manager waits between retries.
func WithSleep(sleep func(context.Context, time.Duration) error) ManagerOption {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithNotifier sets the notification dispatcher. Without one, outcomes are
// only logged.
func WithNotifier(d *notifications.Dispatcher) ManagerOption {
	return func(m *Manager) { m.notifier = d }
}

// NewManager constructs a sync manager.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow config required")
	}
	if deps.Queue == nil || deps.Applier == nil {
		return nil, errors.New("workflow queue and applier required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:         cfg,
		deps:        deps,
		logger:      logging.NewComponentLogger(logger, "workflow"),
		maxRetries:  cfg.Sync.MaxRetries,
		backoffBase: cfg.BackoffBase(),
		backoffMax:  cfg.BackoffMax(),
		periodic:    cfg.PeriodicInterval(),
		now:         time.Now,
		sleep:       sleepContext,
		triggers:    make(chan Trigger, 1),
	}
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Backoff returns the delay after the attempt-th failure: base doubled per
// attempt and capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
