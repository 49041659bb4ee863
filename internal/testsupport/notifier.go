package testsupport

import (
	"context"
	"sync"
	"time"

	"fieldsync/internal/queue"
)

// Notification is one call captured by Notifier.
type Notification struct {
	Event      string
	Kind       queue.Kind
	Summary    string
	ItemCount  int
	ItemID     string
	Reason     string
	Table      string
	RecordID   string
	ConflictID string
}

// Notifier records notifications in memory. It satisfies
// notifications.Service.
type Notifier struct {
	mu     sync.Mutex
	events []Notification
}

// Events returns the captured notifications in order.
func (n *Notifier) Events() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.events))
	copy(out, n.events)
	return out
}

// Find returns the captured notifications for event.
func (n *Notifier) Find(event string) []Notification {
	var out []Notification
	for _, e := range n.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (n *Notifier) record(e Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *Notifier) NotifySuccess(_ context.Context, kind queue.Kind, summary string) error {
	return n.record(Notification{Event: "success", Kind: kind, Summary: summary})
}

func (n *Notifier) NotifyFailure(_ context.Context, itemCount int, itemID, reason string) error {
	return n.record(Notification{Event: "failure", ItemCount: itemCount, ItemID: itemID, Reason: reason})
}

func (n *Notifier) NotifyQueued(_ context.Context, kind queue.Kind) error {
	return n.record(Notification{Event: "queued", Kind: kind})
}

func (n *Notifier) NotifyConflict(_ context.Context, table, recordID, conflictID string) error {
	return n.record(Notification{Event: "conflict", Table: table, RecordID: recordID, ConflictID: conflictID})
}

func (n *Notifier) NotifyPassCompleted(_ context.Context, succeeded, failed int, _ time.Duration) error {
	return n.record(Notification{Event: "pass_completed", ItemCount: succeeded + failed})
}

func (n *Notifier) TestNotification(context.Context) error {
	return n.record(Notification{Event: "test"})
}
