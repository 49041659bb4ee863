package connectivity

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	tests := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{
			name:  "interface added",
			event: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "wlan0"}},
			want:  true,
		},
		{
			name:  "interface changed",
			event: netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "eth0"}},
			want:  true,
		},
		{
			name:  "interface removed",
			event: netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "eth0"}},
			want:  false,
		},
		{
			name:  "interface moved",
			event: netlink.UEvent{Action: netlink.MOVE, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "wlan1"}},
			want:  true,
		},
		{
			name:  "interface offline",
			event: netlink.UEvent{Action: netlink.OFFLINE, Env: map[string]string{"SUBSYSTEM": "net", "INTERFACE": "eth0"}},
			want:  false,
		},
		{
			name:  "subsystem sharing the net prefix",
			event: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "netfilter"}},
			want:  false,
		},
		{
			name:  "block device",
			event: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}},
			want:  false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := matcher.Evaluate(tc.event); got != tc.want {
				t.Fatalf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHandleEvent(t *testing.T) {
	var calls int
	w := NewNetlinkWatcher(nil, func() { calls++ })

	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"INTERFACE": "lo"}})
	if calls != 0 {
		t.Fatal("loopback events should be ignored")
	}
	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"INTERFACE": "wlan0"}})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestNetlinkWatcherNilAndIdempotentStop(t *testing.T) {
	var nilWatcher *NetlinkWatcher
	nilWatcher.Stop()
	if nilWatcher.Running() {
		t.Fatal("nil watcher reported running")
	}
	if err := nilWatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil watcher: %v", err)
	}

	w := NewNetlinkWatcher(nil, nil)
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Fatal("unstarted watcher reported running")
	}
}
