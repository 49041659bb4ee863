package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fieldsync/internal/apply"
	"fieldsync/internal/audio"
	"fieldsync/internal/authority"
	"fieldsync/internal/config"
	"fieldsync/internal/conflict"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/daemon"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/notifications"
	"fieldsync/internal/preflight"
	"fieldsync/internal/queue"
	"fieldsync/internal/store"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/voice"
	"fieldsync/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the fieldsync daemon runtime loop and blocks until SIGINT or
// SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logCfg := *cfg
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		logCfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logPreflight(logger, preflight.RunAll(signalCtx, cfg))

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	client, closeClient, err := authority.Open(signalCtx, cfg)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("open authority: %w", err)
	}
	defer func() {
		if err := closeClient(); err != nil {
			logger.Warn("close authority client", logging.Error(err))
		}
	}()

	d, err := Assemble(signalCtx, cfg, st, client, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and queue database access"),
			logging.String(logging.FieldImpact, "queued mutations are not synced"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("fieldsync daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// Assemble wires every component around st and client. The returned daemon
// owns st and closes it on Close.
func Assemble(ctx context.Context, cfg *config.Config, st *store.Store, client authority.Client, logger *slog.Logger) (*daemon.Daemon, error) {
	if cfg == nil || st == nil || client == nil {
		return nil, fmt.Errorf("assemble requires config, store, and authority client")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewDispatcher(notifications.NewService(cfg), logger,
		time.Duration(cfg.Notifications.RequestTimeout)*time.Second)

	compressor, err := audio.NewCompressor(cfg.Audio, logger)
	if err != nil {
		return nil, err
	}
	captures := audio.New(st, cfg.Audio, audio.WithCompressor(compressor), audio.WithLogger(logger))
	mutations := queue.New(st)

	caps := probeCapabilities(ctx, client, logger)
	conflicts := conflict.New(st, client,
		conflict.WithDeviceID(cfg.Device.DeviceID),
		conflict.WithMirror(caps.ConflictMirror),
		conflict.WithLogger(logger),
	)
	applier := apply.New(client, conflicts,
		apply.WithTenant(cfg.Device.TenantID),
		apply.WithAutoMerge(cfg.Sync.AutoMerge),
		apply.WithLogger(logger),
	)

	var checker authority.HealthChecker
	if hc, ok := client.(authority.HealthChecker); ok {
		checker = hc
	}
	// The monitor fires into the manager, which needs the monitor as its
	// connectivity source; the closure breaks the cycle.
	var manager *workflow.Manager
	monitor := connectivity.NewMonitor(checker,
		connectivity.WithInterval(cfg.ProbeInterval()),
		connectivity.WithDebounce(cfg.ConnectivityDebounce()),
		connectivity.WithLogger(logger),
		connectivity.WithOnOnline(func() {
			if manager != nil {
				manager.Trigger(workflow.TriggerConnectivity)
			}
		}),
	)
	netlinkWatcher := connectivity.NewNetlinkWatcher(logger, monitor.Nudge)

	recorder := telemetry.NewRecorder(ctx, client, cfg.Device.DeviceID, cfg.Device.TenantID, logger)
	collectors := metrics.New(mutations, captures, logger)

	deps := workflow.Deps{
		Queue:        mutations,
		Applier:      applier,
		Connectivity: monitor,
		Audio:        captures,
		Mirrors:      conflicts,
		Observers:    []workflow.SessionObserver{collectors, recorder},
	}
	processor, err := newVoiceProcessor(ctx, cfg, captures, mutations, notifier, logger)
	if err != nil {
		return nil, err
	}
	if processor != nil {
		deps.AudioProcessor = processor
	}

	manager, err = workflow.NewManager(cfg, deps, logger, workflow.WithNotifier(notifier))
	if err != nil {
		return nil, err
	}

	components := daemon.Components{
		Store:     st,
		Queue:     mutations,
		Audio:     captures,
		Conflicts: conflicts,
		Workflow:  manager,
		Monitor:   monitor,
		Netlink:   netlinkWatcher,
		Notifier:  notifier,
		Telemetry: recorder,
	}
	if strings.TrimSpace(cfg.Metrics.Bind) != "" {
		components.Metrics = collectors
	}
	if dir := strings.TrimSpace(cfg.Paths.InboxDir); dir != "" {
		components.Inbox = audio.NewInbox(dir, captures, logger, nil)
	}
	return daemon.New(cfg, components, logger)
}

// newVoiceProcessor returns nil when no transcription service is configured;
// captures then wait in the queue until one is.
func newVoiceProcessor(ctx context.Context, cfg *config.Config, captures *audio.Queue, mutations *queue.Queue, notifier *notifications.Dispatcher, logger *slog.Logger) (*voice.Processor, error) {
	if strings.TrimSpace(cfg.Transcription.URL) == "" {
		logger.Info("transcription not configured; audio captures stay queued",
			logging.String(logging.FieldEventType, "transcription_disabled"))
		return nil, nil
	}
	transcriber, err := voice.NewHTTPTranscriber(cfg.Transcription.URL, cfg.Transcription.APIKey, cfg.TranscriptionTimeout())
	if err != nil {
		return nil, err
	}
	opts := []voice.Option{
		voice.WithNotifier(notifier),
		voice.WithLogger(logger),
		voice.WithMaxRetries(cfg.Audio.MaxTranscriptionRetries),
	}
	if cfg.Archive.Enabled {
		archiver, err := voice.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("audio archive: %w", err)
		}
		opts = append(opts, voice.WithArchiver(archiver))
	}
	return voice.NewProcessor(captures, mutations, transcriber, opts...)
}

func probeCapabilities(ctx context.Context, client authority.Client, logger *slog.Logger) authority.Capabilities {
	prober, ok := client.(authority.CapabilityProber)
	if !ok {
		return authority.Capabilities{}
	}
	caps, err := prober.Capabilities(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "capability probe failed; conflict mirroring disabled", "capability_probe_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pending conflicts are visible on this device only until restart"),
		)
		return authority.Capabilities{}
	}
	logger.Info("authority capabilities",
		logging.Bool("telemetry", caps.Telemetry),
		logging.Bool("conflict_mirror", caps.ConflictMirror),
	)
	return caps
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		attrs := []logging.Attr{
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run `fieldsync status` for the full preflight report"),
		}
		if r.Optional {
			logger.Info("optional preflight check failed", logging.Args(attrs...)...)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed", attrs...)
	}
	logger.Info("preflight complete", logging.Int("checks", len(results)), logging.Int("pid", os.Getpid()))
}
