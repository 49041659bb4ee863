package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/apply"
	"fieldsync/internal/audio"
	"fieldsync/internal/authority"
	"fieldsync/internal/config"
	"fieldsync/internal/conflict"
	"fieldsync/internal/daemon"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
	"fieldsync/internal/workflow"
)

type fixture struct {
	cfg       *config.Config
	daemon    *daemon.Daemon
	mem       *authority.Memory
	queue     *queue.Queue
	conflicts *conflict.Service
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = testsupport.NewConfig(t)
	}
	st := testsupport.MustOpenStore(t, cfg)
	mem := authority.NewMemory()
	q := queue.New(st)
	captures := audio.New(st, cfg.Audio)
	conflicts := conflict.New(st, mem, conflict.WithDeviceID(cfg.Device.DeviceID))
	applier := apply.New(mem, conflicts, apply.WithTenant(cfg.Device.TenantID))
	mgr, err := workflow.NewManager(cfg, workflow.Deps{
		Queue:   q,
		Applier: applier,
		Audio:   captures,
		Mirrors: conflicts,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Components{
		Store:     st,
		Queue:     q,
		Audio:     captures,
		Conflicts: conflicts,
		Workflow:  mgr,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &fixture{cfg: cfg, daemon: d, mem: mem, queue: q, conflicts: conflicts}
}

func (f *fixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.daemon.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, contentType string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := f.daemon.Status(ctx)
	if !status.Running || status.DeviceID != "device-test" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if f.daemon.APIAddress() == "" {
		t.Fatal("expected API to be listening")
	}

	// Second start should fail
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if f.daemon.APIAddress() != "" {
		t.Fatal("expected API listener to be closed")
	}

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	first := newFixture(t, nil)
	cfg := *first.cfg
	cfg.Paths.APIBind = ""
	second := newFixture(t, &cfg)

	ctx := context.Background()
	if err := first.daemon.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.daemon.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock error, got %v", err)
	}
	first.daemon.Stop()
	if err := second.daemon.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestDaemonSyncsThroughAPI(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client, err := api.NewClient(f.daemon.APIAddress(), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	item, err := client.Enqueue(ctx, api.EnqueueRequest{
		Kind:  "create",
		Table: "animals",
		Data:  map[string]any{"earTag": "X001"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := client.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := f.queue.Get(ctx, item.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == queue.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("item never completed: %#v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
	rows := f.mem.Rows("animals")
	if len(rows) != 1 || rows[0]["earTag"] != "X001" {
		t.Fatalf("authority rows = %#v", rows)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || !status.Sync.Running {
		t.Fatalf("status = %#v", status)
	}
}

func TestAPIEnqueueAndList(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server(t)

	body := []byte(`{"kind":"create","table":"animals","data":{"earTag":"X001"},"optimisticId":"tmp-1"}`)
	resp := post(t, srv.URL+"/api/mutations", "application/json", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue status = %d", resp.StatusCode)
	}
	var created api.EnqueueResponse
	decode(t, resp, &created)
	if created.Item.Status != "pending" || created.Item.OptimisticID != "tmp-1" {
		t.Fatalf("created = %#v", created.Item)
	}

	listResp, err := http.Get(srv.URL + "/api/queue?status=pending")
	if err != nil {
		t.Fatalf("GET queue: %v", err)
	}
	defer listResp.Body.Close()
	var list api.QueueListResponse
	decode(t, listResp, &list)
	if len(list.Items) != 1 || list.Items[0].ID != created.Item.ID || list.Stats.Pending != 1 {
		t.Fatalf("list = %#v", list)
	}
}

func TestAPIRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{"missing table", "/api/mutations", `{"kind":"create","data":{"a":1}}`, http.StatusBadRequest, "validation"},
		{"unknown field", "/api/mutations", `{"kind":"create","tabel":"x"}`, http.StatusBadRequest, "validation"},
		{"unknown conflict", "/api/conflicts/nope/resolve", `{"strategy":"client_wins"}`, http.StatusNotFound, "not_found"},
		{"merged without data", "/api/conflicts/nope/resolve", `{"strategy":"merged"}`, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, "application/json", []byte(tt.body))
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var errResp api.ErrorResponse
			decode(t, resp, &errResp)
			if errResp.Kind != tt.kind || errResp.Error == "" {
				t.Fatalf("error response = %#v", errResp)
			}
		})
	}

	resp, err := http.Get(srv.URL + "/api/queue?status=lost")
	if err != nil {
		t.Fatalf("GET queue: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown status filter = %d", resp.StatusCode)
	}
}

func TestAPIAudioUploadAndStats(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server(t)

	resp := post(t, srv.URL+"/api/audio?source=ui&form=health_checks", "audio/ogg", testsupport.Blob(2048, 7))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var capture api.AudioCapture
	decode(t, resp, &capture)
	if capture.Status != "pending" || capture.Source != "ui" || capture.Form != "health_checks" {
		t.Fatalf("capture = %#v", capture)
	}
	if capture.TenantID != "farm-test" {
		t.Fatalf("tenant should default to the device tenant, got %q", capture.TenantID)
	}

	statsResp, err := http.Get(srv.URL + "/api/audio/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer statsResp.Body.Close()
	var stats api.AudioStats
	decode(t, statsResp, &stats)
	if stats.Count != 1 || stats.Pending != 1 || stats.TotalBytes <= 0 {
		t.Fatalf("stats = %#v", stats)
	}

	retry := post(t, srv.URL+"/api/audio/"+capture.ID+"/retry", "application/json", nil)
	if retry.StatusCode != http.StatusBadRequest {
		t.Fatalf("retrying a pending capture should be rejected, got %d", retry.StatusCode)
	}

	empty := post(t, srv.URL+"/api/audio", "audio/ogg", nil)
	if empty.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty upload status = %d", empty.StatusCode)
	}
}

func TestAPIResolveConflictQueuesResolution(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server(t)
	ctx := context.Background()

	id, err := f.conflicts.RecordConflict(ctx, "farm-test", "pastures", "p-9",
		map[string]any{"grazing_days": 21}, map[string]any{"grazing_days": 14})
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	listResp, err := http.Get(srv.URL + "/api/conflicts")
	if err != nil {
		t.Fatalf("GET conflicts: %v", err)
	}
	defer listResp.Body.Close()
	var list api.ConflictListResponse
	decode(t, listResp, &list)
	if len(list.Items) != 1 || list.Items[0].ID != id || list.Items[0].Resolution != "pending" {
		t.Fatalf("conflicts = %#v", list)
	}

	resp := post(t, srv.URL+"/api/conflicts/"+id+"/resolve", "application/json", []byte(`{"strategy":"client_wins"}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	var queued api.EnqueueResponse
	decode(t, resp, &queued)
	if queued.Item.Kind != string(queue.KindResolveConflict) || queued.Item.Status != "pending" {
		t.Fatalf("queued = %#v", queued.Item)
	}

	// The conflict stays pending until the queued resolution syncs.
	c, err := f.conflicts.Get(ctx, id)
	if err != nil || c == nil || !c.IsPending() {
		t.Fatalf("conflict = %#v, %v", c, err)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "secret"
	f := newFixture(t, cfg)
	srv := f.server(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	client, err := api.NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status with token: %v", err)
	}
	if status.DeviceID != "device-test" || status.Running {
		t.Fatalf("status = %#v", status)
	}
}

func TestNewRequiresComponents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, daemon.Components{}, logging.NewNop()); err == nil {
		t.Fatal("expected missing components error")
	}
}

func TestSyncOnceRunsPassAndRespectsLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item, err := f.daemon.Enqueue(ctx, queue.CreateRecord{
		Table:    "animals",
		TenantID: f.cfg.Device.TenantID,
		Data:     map[string]any{"earTag": "L9"},
	}, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	session, err := f.daemon.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if session.Succeeded != 1 {
		t.Fatalf("expected one success, got %#v", session)
	}
	got, err := f.queue.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.daemon.SyncOnce(ctx); err == nil {
		t.Fatal("expected SyncOnce to refuse while running")
	}
}

func TestRetryFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	fail := func(tag string) *queue.Item {
		t.Helper()
		item, err := f.queue.Enqueue(ctx, queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": tag}})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, err := f.queue.SetStatus(ctx, item.ID, queue.StatusProcessing, ""); err != nil {
			t.Fatalf("SetStatus processing: %v", err)
		}
		if _, err := f.queue.SetStatus(ctx, item.ID, queue.StatusFailed, "rejected"); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		return item
	}

	if n, err := f.daemon.RetryFailed(ctx); err != nil || n != 0 {
		t.Fatalf("RetryFailed on empty queue = %d, %v", n, err)
	}

	first, second := fail("R1"), fail("R2")
	if n, err := f.daemon.RetryFailed(ctx, second.ID); err != nil || n != 1 {
		t.Fatalf("RetryFailed(id) = %d, %v", n, err)
	}
	if n, err := f.daemon.RetryFailed(ctx); err != nil || n != 1 {
		t.Fatalf("RetryFailed() = %d, %v", n, err)
	}
	for _, id := range []string{first.ID, second.ID} {
		got, err := f.queue.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != queue.StatusPending {
			t.Fatalf("%s status = %s, want pending", id, got.Status)
		}
	}
}
