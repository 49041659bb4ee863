package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"fieldsync/internal/audio"
	"fieldsync/internal/config"
	"fieldsync/internal/conflict"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
	"fieldsync/internal/store"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/workflow"
)

// Components are the collaborators a daemon runs. Store, Queue, Audio,
// Conflicts, and Workflow are required; the rest may be nil.
type Components struct {
	Store     *store.Store
	Queue     *queue.Queue
	Audio     *audio.Queue
	Conflicts *conflict.Service
	Workflow  *workflow.Manager
	Monitor   *connectivity.Monitor
	Netlink   *connectivity.NetlinkWatcher
	Inbox     *audio.Inbox
	Notifier  *notifications.Dispatcher
	Telemetry *telemetry.Recorder
	Metrics   *metrics.Metrics
}

// Daemon coordinates the background sync services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	c      Components

	lockPath string
	lock     *flock.Flock

	api     *httpServer
	metrics *httpServer

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	DeviceID      string
	TenantID      string
	Workflow      workflow.StatusSummary
	Sessions      []workflow.Session
	Audio         audio.StorageStats
	QueueDBPath   string
	LockFilePath  string
	Telemetry     bool
	NetlinkEvents bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, c Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || c.Store == nil || c.Queue == nil || c.Audio == nil || c.Conflicts == nil || c.Workflow == nil {
		return nil, errors.New("daemon requires config, store, queues, conflict service, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		c:        c,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newHTTPServer("api", cfg.Paths.APIBind, d.routes(), d.logger)
	if c.Metrics != nil {
		d.metrics = newHTTPServer("metrics", cfg.Metrics.Bind, c.Metrics.Handler(), d.logger)
	}
	return d, nil
}

// Start acquires the daemon lock and launches every background service.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fieldsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		d.stopServices()
		_ = d.lock.Unlock()
		return err
	}

	if d.c.Monitor != nil {
		if err := d.c.Monitor.Start(runCtx); err != nil {
			return fail(fmt.Errorf("start connectivity monitor: %w", err))
		}
	}
	if d.c.Netlink != nil {
		if err := d.c.Netlink.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "netlink watcher unavailable", "netlink_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "interface events are optional; periodic probes still detect connectivity"),
			)
		}
	}
	if err := d.c.Workflow.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	if err := d.api.start(); err != nil {
		return fail(err)
	}
	if err := d.metrics.start(); err != nil {
		return fail(err)
	}
	if d.c.Inbox != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.c.Inbox.Run(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "audio inbox stopped", "audio_inbox_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check audio_inbox_dir permissions"),
					logging.String(logging.FieldImpact, "recordings dropped into the inbox are not queued"),
				)
			}
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("fieldsync daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.DeviceID(d.cfg.Device.DeviceID),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopServices()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("fieldsync daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) stopServices() {
	d.api.stop()
	d.metrics.stop()
	d.c.Workflow.Stop()
	d.c.Netlink.Stop()
	if d.c.Monitor != nil {
		d.c.Monitor.Stop()
	}
	d.wg.Wait()
	d.c.Notifier.Wait()
	d.c.Telemetry.Wait()
}

// SyncOnce runs a single pass without starting background services. It holds
// the daemon lock for the duration so it never races a running daemon.
func (d *Daemon) SyncOnce(ctx context.Context) (workflow.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return workflow.Session{}, errors.New("daemon is running; trigger a pass through the API instead")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return workflow.Session{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return workflow.Session{}, errors.New("another fieldsync daemon instance is already running; use `fieldsync sync` without --local")
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if d.c.Monitor != nil {
		d.c.Monitor.Probe(ctx)
	}
	session, err := d.c.Workflow.RunPass(ctx, workflow.TriggerManual)
	d.c.Notifier.Wait()
	d.c.Telemetry.Wait()
	return session, err
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.c.Store.Close()
}

// APIAddress returns the bound API address, or empty when the API is disabled
// or not yet listening.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Enqueue stores a mutation submitted by a UI.
func (d *Daemon) Enqueue(ctx context.Context, m queue.Mutation, optimisticID string) (*queue.Item, error) {
	var opts []queue.EnqueueOption
	if optimisticID != "" {
		opts = append(opts, queue.WithOptimisticID(optimisticID))
	}
	item, err := d.c.Queue.Enqueue(ctx, m, opts...)
	if err != nil {
		return nil, err
	}
	d.logger.Info("mutation queued",
		logging.String(logging.FieldEventType, "mutation_queued"),
		logging.String(logging.FieldItemID, item.ID),
		logging.String("kind", string(item.Kind)),
	)
	d.c.Notifier.Queued(item.Kind)
	return item, nil
}

// ListQueue returns queue items filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, queue.Stats, error) {
	items, err := d.c.Queue.List(ctx, statuses...)
	if err != nil {
		return nil, queue.Stats{}, err
	}
	stats, err := d.c.Queue.Stats(ctx)
	if err != nil {
		return nil, queue.Stats{}, err
	}
	return items, stats, nil
}

// RetryFailed resets failed items back to pending; no ids means every failed
// item.
func (d *Daemon) RetryFailed(ctx context.Context, ids ...string) (int, error) {
	return d.c.Queue.Retry(ctx, ids...)
}

// ClearCompleted removes completed queue items.
func (d *Daemon) ClearCompleted(ctx context.Context) (int, error) {
	return d.c.Queue.ClearCompleted(ctx)
}

// TriggerSync requests a manual pass and an immediate connectivity probe.
func (d *Daemon) TriggerSync() bool {
	if d.c.Monitor != nil {
		d.c.Monitor.Nudge()
	}
	return d.c.Workflow.Trigger(workflow.TriggerManual)
}

// AddAudio admits a capture.
func (d *Daemon) AddAudio(ctx context.Context, blob []byte, meta audio.Metadata) (*audio.Item, error) {
	if meta.TenantID == "" {
		meta.TenantID = d.cfg.Device.TenantID
	}
	return d.c.Audio.QueueAudio(ctx, blob, meta)
}

// ListAudio returns captures filtered by optional statuses.
func (d *Daemon) ListAudio(ctx context.Context, statuses ...audio.Status) ([]*audio.Item, error) {
	return d.c.Audio.List(ctx, statuses...)
}

// AudioStats returns capture storage counts.
func (d *Daemon) AudioStats(ctx context.Context) (audio.StorageStats, error) {
	return d.c.Audio.StorageStats(ctx)
}

// CleanupAudio purges captures past the retention window.
func (d *Daemon) CleanupAudio(ctx context.Context) (int, error) {
	return d.c.Audio.CleanupExpired(ctx)
}

// RetryAudio resets a failed capture to pending.
func (d *Daemon) RetryAudio(ctx context.Context, id string) (*audio.Item, error) {
	return d.c.Audio.ResetForRetry(ctx, id)
}

// ListConflicts returns this device's tenant conflicts.
func (d *Daemon) ListConflicts(ctx context.Context, onlyPending bool) ([]*conflict.Conflict, error) {
	return d.c.Conflicts.List(ctx, d.cfg.Device.TenantID, onlyPending)
}

// ResolveConflict queues a decision for a pending conflict. The resolution is
// applied by the next sync pass so it works offline.
func (d *Daemon) ResolveConflict(ctx context.Context, id string, m queue.ResolveConflict) (*queue.Item, error) {
	c, err := d.c.Conflicts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, services.Wrap(services.ErrNotFound, "daemon", "resolve conflict", "conflict "+id, nil)
	}
	if !c.IsPending() {
		return nil, services.Wrap(services.ErrConflict, "daemon", "resolve conflict",
			fmt.Sprintf("conflict %s already resolved as %s", id, c.Resolution), nil)
	}
	m.ConflictID = c.ID
	return d.Enqueue(ctx, m, "")
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		DeviceID:      d.cfg.Device.DeviceID,
		TenantID:      d.cfg.Device.TenantID,
		Workflow:      d.c.Workflow.Status(ctx),
		Sessions:      d.c.Workflow.Sessions(),
		QueueDBPath:   d.c.Store.Path(),
		LockFilePath:  d.lockPath,
		Telemetry:     d.c.Telemetry.Enabled(),
		NetlinkEvents: d.c.Netlink.Running(),
	}
	stats, err := d.c.Audio.StorageStats(ctx)
	if err != nil {
		d.logger.Warn("failed to read audio stats", logging.Error(err))
	}
	status.Audio = stats
	return status
}
