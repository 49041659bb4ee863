package workflow_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/authority"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
	"fieldsync/internal/workflow"
)

func TestBackoff(t *testing.T) {
	base, limit := time.Second, 30*time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tc := range tests {
		if got := workflow.Backoff(base, limit, tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRunPassEmptyQueueIsNoop(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))

	session := d.pass(t, workflow.TriggerManual)
	if session.Processed != 0 || len(applier.applied()) != 0 {
		t.Fatalf("expected no work, got %#v", session)
	}
	if len(d.notifier.Events()) != 0 {
		t.Fatalf("empty pass should not notify, got %#v", d.notifier.Events())
	}
}

func TestRunPassAppliesInFIFOOrder(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))

	var ids []string
	for i := 0; i < 5; i++ {
		item := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": i}})
		ids = append(ids, item.ID)
	}
	// A failing middle item must not reorder the rest.
	applier.failWith(ids[2], errors.New("timeout"))

	session := d.pass(t, workflow.TriggerManual)
	if got := applier.applied(); !slices.Equal(got, ids) {
		t.Fatalf("applied order = %v, want %v", got, ids)
	}
	if session.Succeeded != 4 || session.Retried != 1 {
		t.Fatalf("unexpected session %#v", session)
	}

	pending, err := d.queue.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != ids[2] {
		t.Fatalf("expected only the failed item pending, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 || pending[0].LastError == "" {
		t.Fatalf("retry bookkeeping missing: %#v", pending[0])
	}
}

func TestRetryBudgetExhaustsToFailed(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))
	item := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "X009"}})
	reason := errors.New("constraint_violation on animals: duplicate ear tag")
	applier.failWith(item.ID, reason, reason, reason, reason)

	for pass := 1; pass <= 3; pass++ {
		d.pass(t, workflow.TriggerManual)
	}
	got := d.item(t, item.ID)
	if got.Status != queue.StatusFailed || got.RetryCount != 3 {
		t.Fatalf("expected failed after 3 attempts, got %s retry=%d", got.Status, got.RetryCount)
	}
	if got.LastError != reason.Error() {
		t.Fatalf("last error = %q, want message passed through", got.LastError)
	}
	if delays := d.sleeps.recorded(); !slices.Equal(delays, []time.Duration{time.Millisecond, 2 * time.Millisecond}) {
		t.Fatalf("backoff delays = %v", delays)
	}

	failures := d.notifier.Find("failure")
	if len(failures) != 1 || failures[0].ItemID != item.ID || failures[0].ItemCount != 1 {
		t.Fatalf("expected one failure notification, got %#v", failures)
	}

	// Failed items are never attempted automatically.
	d.pass(t, workflow.TriggerPeriodic)
	if n := len(applier.applied()); n != 3 {
		t.Fatalf("failed item was attempted again: %d attempts", n)
	}

	// Manual retry restores a fresh budget.
	moved, err := d.queue.Retry(context.Background(), item.ID)
	if err != nil || moved != 1 {
		t.Fatalf("Retry: %d %v", moved, err)
	}
	got = d.item(t, item.ID)
	if got.Status != queue.StatusPending || got.RetryCount != 0 {
		t.Fatalf("manual retry should reset to pending with zero retries, got %s/%d", got.Status, got.RetryCount)
	}
	d.pass(t, workflow.TriggerManual)
	if got := d.item(t, item.ID); got.Status != queue.StatusPending || got.RetryCount != 1 {
		t.Fatalf("retried item should consume its fresh budget one attempt at a time, got %s/%d", got.Status, got.RetryCount)
	}
}

func TestMultipleFailuresAreAggregated(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))
	d.cfg.Sync.MaxRetries = 1
	manager, err := workflow.NewManager(d.cfg, workflow.Deps{Queue: d.queue, Applier: applier}, nil,
		workflow.WithNotifier(d.dispatch), workflow.WithSleep(d.sleeps.sleep))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for i := 0; i < 3; i++ {
		item := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"n": i}})
		applier.failWith(item.ID, errors.New("rejected"))
	}

	session, err := manager.RunPass(context.Background(), workflow.TriggerManual)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	d.dispatch.Wait()
	if session.Failed != 3 {
		t.Fatalf("failed = %d", session.Failed)
	}
	failures := d.notifier.Find("failure")
	if len(failures) != 1 || failures[0].ItemCount != 3 || failures[0].ItemID != "" {
		t.Fatalf("expected one aggregated failure notification, got %#v", failures)
	}
	if len(d.notifier.Find("pass_completed")) != 1 {
		t.Fatal("manual pass should announce completion")
	}
}

func TestItemsEnqueuedMidPassWaitForNextPass(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))
	first := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "A"}})

	var late *queue.Item
	applier.onCall = func(item *queue.Item) {
		if item.ID == first.ID && late == nil {
			late = d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "B"}})
		}
	}

	session := d.pass(t, workflow.TriggerManual)
	if session.Processed != 1 {
		t.Fatalf("processed = %d, want 1", session.Processed)
	}
	if got := d.item(t, late.ID); got.Status != queue.StatusPending {
		t.Fatalf("late item status = %s", got.Status)
	}
	d.pass(t, workflow.TriggerManual)
	if got := d.item(t, late.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("late item should sync on the next pass, got %s", got.Status)
	}
}

func TestPassAbandonedWhenConnectivityDrops(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))
	first := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "A"}})
	second := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "B"}})
	applier.onCall = func(*queue.Item) { d.link.online.Store(false) }

	session := d.pass(t, workflow.TriggerConnectivity)
	if !session.Abandoned || session.Processed != 1 {
		t.Fatalf("expected abandoned pass after one item, got %#v", session)
	}
	if got := d.item(t, first.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("in-flight item should finish, got %s", got.Status)
	}
	if got := d.item(t, second.ID); got.Status != queue.StatusPending || got.RetryCount != 0 {
		t.Fatalf("remaining item should stay pending untouched, got %s/%d", got.Status, got.RetryCount)
	}
}

func TestFatalErrorStopsPass(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))
	first := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "A"}})
	d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "B"}})
	applier.failWith(first.ID, services.Wrap(services.ErrFatal, "store", "write", "disk full", nil))

	session, err := d.manager.RunPass(context.Background(), workflow.TriggerManual)
	if !services.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if session.Error == "" || len(applier.applied()) != 1 {
		t.Fatalf("pass should stop at the fatal item: %#v applied=%v", session, applier.applied())
	}
	if status := d.manager.Status(context.Background()); status.LastError == "" {
		t.Fatal("status should surface the fatal error")
	}

	item, err := d.queue.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != queue.StatusPending || item.RetryCount != 0 || !strings.Contains(item.LastError, "disk full") {
		t.Fatalf("fatal item should return to pending with its error: %#v", item)
	}

	// The next pass picks the released item up again.
	if _, err := d.manager.RunPass(context.Background(), workflow.TriggerManual); err != nil {
		t.Fatalf("second RunPass: %v", err)
	}
	item, err = d.queue.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != queue.StatusCompleted {
		t.Fatalf("released item should sync on the next pass, got %s", item.Status)
	}
}

func TestTriggersCoalesce(t *testing.T) {
	d := newDevice(t, authority.NewMemory(), withApplier(newScriptedApplier()))
	if !d.manager.Trigger(workflow.TriggerManual) {
		t.Fatal("first trigger should be queued")
	}
	if d.manager.Trigger(workflow.TriggerConnectivity) {
		t.Fatal("second trigger should coalesce into the queued one")
	}
}

func TestStartRecoversAndRunsStartupPass(t *testing.T) {
	collector := &sessionCollector{}
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier), withObserver(collector))
	ctx := context.Background()

	stuck := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "S1"}})
	if _, err := d.queue.SetStatus(ctx, stuck.ID, queue.StatusProcessing, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if err := d.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.manager.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(collector.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	d.manager.Stop()
	d.manager.Stop()

	sessions := collector.all()
	if len(sessions) == 0 || sessions[0].Trigger != workflow.TriggerStartup {
		t.Fatalf("expected a startup session, got %#v", sessions)
	}
	if got := d.item(t, stuck.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("stuck item should be recovered and synced, got %s", got.Status)
	}
	if status := d.manager.Status(ctx); status.Running || status.LastSession == nil {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestSessionsAreBounded(t *testing.T) {
	d := newDevice(t, authority.NewMemory(), withApplier(newScriptedApplier()))
	for i := 0; i < 25; i++ {
		d.pass(t, workflow.TriggerPeriodic)
	}
	if got := len(d.manager.Sessions()); got != 20 {
		t.Fatalf("sessions = %d, want 20", got)
	}
}

func TestNewManagerRequiresQueueAndApplier(t *testing.T) {
	d := newDevice(t, authority.NewMemory(), withApplier(newScriptedApplier()))
	if _, err := workflow.NewManager(d.cfg, workflow.Deps{Queue: d.queue}, nil); err == nil {
		t.Fatal("expected error without applier")
	}
	if _, err := workflow.NewManager(nil, workflow.Deps{}, nil); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestParseTrigger(t *testing.T) {
	for _, name := range []string{"connectivity", "periodic", "manual", "startup"} {
		if _, ok := workflow.ParseTrigger(name); !ok {
			t.Fatalf("%s should parse", name)
		}
	}
	if _, ok := workflow.ParseTrigger("cron"); ok {
		t.Fatal("cron should not parse")
	}
}

func TestTerminalErrorsSpendBudgetWithoutBackoff(t *testing.T) {
	applier := newScriptedApplier()
	d := newDevice(t, authority.NewMemory(), withApplier(applier))
	item := d.enqueue(t, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "X010"}})
	rejected := &authority.Error{Code: authority.CodeValidation, Table: "animals", Message: "weight must be positive"}
	applier.failWith(item.ID, rejected, rejected, rejected)

	for pass := 1; pass <= 3; pass++ {
		d.pass(t, workflow.TriggerManual)
	}
	got := d.item(t, item.ID)
	if got.Status != queue.StatusFailed || got.RetryCount != 3 {
		t.Fatalf("expected failed after 3 attempts, got %s retry=%d", got.Status, got.RetryCount)
	}
	if delays := d.sleeps.recorded(); len(delays) != 0 {
		t.Fatalf("terminal errors should not wait out a backoff, got %v", delays)
	}
}
