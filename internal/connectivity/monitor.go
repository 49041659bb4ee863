package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/authority"
	"fieldsync/internal/logging"
)

const defaultProbeTimeout = 5 * time.Second

// Monitor reports authority reachability.
type Monitor struct {
	checker  authority.HealthChecker
	logger   *slog.Logger
	interval time.Duration
	debounce time.Duration
	timeout  time.Duration
	onOnline func()

	online atomic.Bool
	nudge  chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets how often the authority is probed.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithDebounce sets how long an online transition must hold before
// OnOnline fires.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

// WithProbeTimeout bounds a single health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithOnOnline registers the callback for confirmed online transitions.
func WithOnOnline(fn func()) Option {
	return func(m *Monitor) { m.onOnline = fn }
}

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor constructs a monitor. A nil checker means the authority offers
// no health endpoint and the device is always considered online.
func NewMonitor(checker authority.HealthChecker, opts ...Option) *Monitor {
	m := &Monitor{
		checker:  checker,
		logger:   logging.NewNop(),
		interval: 15 * time.Second,
		timeout:  defaultProbeTimeout,
		nudge:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "connectivity")
	if checker == nil {
		m.online.Store(true)
	}
	return m
}

// Online reports the result of the latest probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Probe checks the authority once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.checker == nil {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.checker.Health(probeCtx)
	online := err == nil
	if previous := m.online.Swap(online); previous != online {
		if online {
			m.logger.Info("authority reachable",
				logging.String(logging.FieldEventType, "connectivity_online"),
			)
		} else if !errors.Is(err, context.Canceled) {
			m.logger.Info("authority unreachable",
				logging.Error(err),
				logging.String(logging.FieldEventType, "connectivity_offline"),
				logging.String(logging.FieldImpact, "changes stay queued until the authority is reachable"),
			)
		}
	}
	return online
}

// Nudge requests an immediate probe. It never blocks.
func (m *Monitor) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Start performs an initial probe and begins probing in the background. The
// initial result never fires OnOnline.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("connectivity monitor already running")
	}
	m.Probe(ctx)
	if m.checker == nil {
		m.running = true
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.loop(runCtx)
	return nil
}

// Stop ends background probing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var confirm <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-confirm:
			confirm = nil
			if m.Probe(ctx) {
				m.fireOnline()
			}
			continue
		case <-ticker.C:
		case <-m.nudge:
		}

		wasOnline := m.Online()
		if !m.Probe(ctx) || wasOnline || confirm != nil {
			continue
		}
		if m.debounce <= 0 {
			m.fireOnline()
			continue
		}
		timer = time.NewTimer(m.debounce)
		confirm = timer.C
	}
}

func (m *Monitor) fireOnline() {
	m.logger.Debug("online transition confirmed")
	if m.onOnline != nil {
		m.onOnline()
	}
}
