package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"fieldsync/internal/logging"
)

// NetlinkWatcher listens for udev network interface events and calls
// onChange for each one, typically Monitor.Nudge.
type NetlinkWatcher struct {
	logger   *slog.Logger
	onChange func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewNetlinkWatcher creates a watcher. It does nothing until Start.
func NewNetlinkWatcher(logger *slog.Logger, onChange func()) *NetlinkWatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NetlinkWatcher{
		logger:   logging.NewComponentLogger(logger, "netlink-watcher"),
		onChange: onChange,
	}
}

// Start connects to the netlink socket. Failing to connect is not an error;
// connectivity then relies on periodic probes alone.
func (w *NetlinkWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket; connectivity relies on periodic probes",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "reconnects are noticed at the next probe interval"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true
	quit := w.quit
	go w.loop(ctx, conn, quit)

	w.logger.Info("netlink watcher started",
		logging.String(logging.FieldEventType, "netlink_watcher_started"),
	)
	return nil
}

// Stop closes the netlink socket.
func (w *NetlinkWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
}

// Running reports whether the watcher is connected.
func (w *NetlinkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *NetlinkWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case event := <-events:
			w.handleEvent(event)
		case err := <-errs:
			w.logger.Warn("netlink watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_watcher_error"),
				logging.String(logging.FieldImpact, "interface changes may be missed until the next probe"),
			)
		}
	}
}

// buildMatcher matches interface add, change, move, and online events in
// the net subsystem. Both expressions are anchored; unanchored, "move" also
// matches "remove".
func buildMatcher() netlink.Matcher {
	action := "^(add|change|move|online)$"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^net$",
		},
	})
	return rules
}

func (w *NetlinkWatcher) handleEvent(event netlink.UEvent) {
	iface := event.Env["INTERFACE"]
	if iface == "lo" {
		return
	}
	w.logger.Debug("network interface event",
		logging.String("interface", iface),
		logging.String("action", string(event.Action)),
	)
	if w.onChange != nil {
		w.onChange()
	}
}
