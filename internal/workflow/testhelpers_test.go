package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldsync/internal/apply"
	"fieldsync/internal/authority"
	"fieldsync/internal/config"
	"fieldsync/internal/conflict"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/store"
	"fieldsync/internal/testsupport"
	"fieldsync/internal/workflow"
)

var t0 = time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)

type switchableLink struct {
	online atomic.Bool
}

func newLink(online bool) *switchableLink {
	l := &switchableLink{}
	l.online.Store(online)
	return l
}

func (l *switchableLink) Online() bool { return l.online.Load() }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// device is one client installation: its own store and queue against a
// shared authority.
type device struct {
	cfg       *config.Config
	store     *store.Store
	queue     *queue.Queue
	conflicts *conflict.Service
	link      *switchableLink
	notifier  *testsupport.Notifier
	dispatch  *notifications.Dispatcher
	sleeps    *sleepRecorder
	manager   *workflow.Manager
}

type deviceOption func(*deviceSettings)

type deviceSettings struct {
	id        string
	applier   workflow.Applier
	online    bool
	autoMerge bool
	observers []workflow.SessionObserver
	clock     func() time.Time
}

func withDeviceID(id string) deviceOption { return func(s *deviceSettings) { s.id = id } }

func withApplier(a workflow.Applier) deviceOption { return func(s *deviceSettings) { s.applier = a } }

func offline() deviceOption { return func(s *deviceSettings) { s.online = false } }

func withObserver(o workflow.SessionObserver) deviceOption {
	return func(s *deviceSettings) { s.observers = append(s.observers, o) }
}

func withQueueClock(now func() time.Time) deviceOption { return func(s *deviceSettings) { s.clock = now } }

func newDevice(t *testing.T, mem *authority.Memory, opts ...deviceOption) *device {
	t.Helper()
	settings := deviceSettings{id: "device-a", online: true}
	for _, opt := range opts {
		opt(&settings)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithDevice(settings.id, "farm-1"))
	st := testsupport.MustOpenStore(t, cfg)

	var queueOpts []queue.Option
	if settings.clock != nil {
		queueOpts = append(queueOpts, queue.WithClock(settings.clock))
	}
	q := queue.New(st, queueOpts...)
	conflicts := conflict.New(st, mem, conflict.WithDeviceID(settings.id), conflict.WithMirror(true))
	applier := settings.applier
	if applier == nil {
		applier = apply.New(mem, conflicts, apply.WithTenant("farm-1"), apply.WithAutoMerge(settings.autoMerge))
	}

	d := &device{
		cfg:       cfg,
		store:     st,
		queue:     q,
		conflicts: conflicts,
		link:      newLink(settings.online),
		notifier:  &testsupport.Notifier{},
		sleeps:    &sleepRecorder{},
	}
	d.dispatch = notifications.NewDispatcher(d.notifier, nil, time.Second)
	manager, err := workflow.NewManager(cfg, workflow.Deps{
		Queue:        q,
		Applier:      applier,
		Connectivity: d.link,
		Mirrors:      conflicts,
		Observers:    settings.observers,
	}, nil, workflow.WithNotifier(d.dispatch), workflow.WithSleep(d.sleeps.sleep))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d.manager = manager
	return d
}

func (d *device) enqueue(t *testing.T, m queue.Mutation) *queue.Item {
	t.Helper()
	item, err := d.queue.Enqueue(context.Background(), m)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return item
}

func (d *device) pass(t *testing.T, trigger workflow.Trigger) workflow.Session {
	t.Helper()
	session, err := d.manager.RunPass(context.Background(), trigger)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	d.dispatch.Wait()
	return session
}

func (d *device) item(t *testing.T, id string) *queue.Item {
	t.Helper()
	item, err := d.queue.Get(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("Get %s: %v %v", id, item, err)
	}
	return item
}

// scriptedApplier returns queued errors before delegating, and records the
// order items were applied in.
type scriptedApplier struct {
	mu     sync.Mutex
	errs   map[string][]error
	order  []string
	onCall func(*queue.Item)
}

func newScriptedApplier() *scriptedApplier {
	return &scriptedApplier{errs: make(map[string][]error)}
}

func (s *scriptedApplier) failWith(id string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = append(s.errs[id], errs...)
}

func (s *scriptedApplier) Apply(_ context.Context, item *queue.Item) (apply.Result, error) {
	s.mu.Lock()
	s.order = append(s.order, item.ID)
	var err error
	if queued := s.errs[item.ID]; len(queued) > 0 {
		err = queued[0]
		s.errs[item.ID] = queued[1:]
	}
	hook := s.onCall
	s.mu.Unlock()
	if hook != nil {
		hook(item)
	}
	if err != nil {
		return apply.Result{}, err
	}
	return apply.Result{Summary: "applied " + item.ID}, nil
}

func (s *scriptedApplier) applied() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type sessionCollector struct {
	mu       sync.Mutex
	sessions []workflow.Session
}

func (c *sessionCollector) ObserveSession(_ context.Context, session workflow.Session) {
	c.mu.Lock()
	c.sessions = append(c.sessions, session)
	c.mu.Unlock()
}

func (c *sessionCollector) all() []workflow.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]workflow.Session(nil), c.sessions...)
}
