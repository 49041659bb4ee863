package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fieldsync/internal/audio"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
	"fieldsync/internal/testsupport"
	"fieldsync/internal/voice"
)

type scriptedTranscriber struct {
	mu    sync.Mutex
	texts []string
	errs  []error
	calls int
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(s.texts) == 0 {
		return "note", nil
	}
	text := s.texts[0]
	s.texts = s.texts[1:]
	return text, nil
}

type recordingArchiver struct {
	keys []string
	err  error
}

func (r *recordingArchiver) Archive(_ context.Context, capture *audio.Item, _ []byte) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.keys = append(r.keys, capture.ID)
	return capture.ID, nil
}

type fixture struct {
	captures  *audio.Queue
	mutations *queue.Queue
	notifier  *testsupport.Notifier
	dispatch  *notifications.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	f := &fixture{
		captures:  audio.New(st, cfg.Audio),
		mutations: queue.New(st),
		notifier:  &testsupport.Notifier{},
	}
	f.dispatch = notifications.NewDispatcher(f.notifier, nil, 0)
	return f
}

func (f *fixture) capture(t *testing.T, meta audio.Metadata) *audio.Item {
	t.Helper()
	item, err := f.captures.QueueAudio(context.Background(), testsupport.Blob(256, 3), meta)
	if err != nil {
		t.Fatalf("QueueAudio: %v", err)
	}
	return item
}

func TestProcessPendingQueuesMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.capture(t, audio.Metadata{Form: "observations", TenantID: "farm-1"})
	f.capture(t, audio.Metadata{})

	tr := &scriptedTranscriber{texts: []string{"calf born in paddock 3", "water trough low"}}
	archiver := &recordingArchiver{}
	p, err := voice.NewProcessor(f.captures, f.mutations, tr, voice.WithArchiver(archiver), voice.WithNotifier(f.dispatch))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	n, err := p.ProcessPending(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	f.dispatch.Wait()

	items, err := f.mutations.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("queued mutations = %d", len(items))
	}
	if items[0].ID != "audio-"+first.ID+"-0" {
		t.Fatalf("first item id = %q", items[0].ID)
	}
	m, err := items[0].Mutation()
	if err != nil {
		t.Fatalf("Mutation: %v", err)
	}
	create, ok := m.(queue.CreateRecord)
	if !ok || create.Table != "observations" || create.Data["transcript"] != "calf born in paddock 3" {
		t.Fatalf("unexpected first mutation %#v", m)
	}
	if len(archiver.keys) != 2 {
		t.Fatalf("archived = %v", archiver.keys)
	}
	stats, err := f.captures.StorageStats(ctx)
	if err != nil || stats.Count != 0 {
		t.Fatalf("captures should be swept after archiving: %#v %v", stats, err)
	}
	if queued := f.notifier.Find("queued"); len(queued) != 2 || queued[0].Kind != queue.KindCreate {
		t.Fatalf("queued notifications = %#v", queued)
	}
}

func TestProcessPendingRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	capture := f.capture(t, audio.Metadata{})
	boom := services.Wrap(services.ErrTransient, "voice", "transcribe", "status 503", nil)
	tr := &scriptedTranscriber{errs: []error{boom, boom}}
	p, err := voice.NewProcessor(f.captures, f.mutations, tr, voice.WithMaxRetries(2))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	if n, err := p.ProcessPending(ctx); err != nil || n != 0 {
		t.Fatalf("first run = %d, %v", n, err)
	}
	got, _ := f.captures.Get(ctx, capture.ID)
	if got.Status != audio.StatusPending || got.Retries != 1 {
		t.Fatalf("after first failure: %s retries=%d", got.Status, got.Retries)
	}

	if _, err := p.ProcessPending(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	got, _ = f.captures.Get(ctx, capture.ID)
	if got.Status != audio.StatusFailed || got.Retries != 2 || got.LastError == "" {
		t.Fatalf("after budget: %s retries=%d err=%q", got.Status, got.Retries, got.LastError)
	}

	// Failed captures are not attempted again automatically.
	if _, err := p.ProcessPending(ctx); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if tr.calls != 2 {
		t.Fatalf("transcriber calls = %d", tr.calls)
	}
}

func TestProcessPendingKeepsCaptureWhenArchiveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	capture := f.capture(t, audio.Metadata{})
	p, err := voice.NewProcessor(f.captures, f.mutations, &scriptedTranscriber{},
		voice.WithArchiver(&recordingArchiver{err: errors.New("access denied")}))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if n, err := p.ProcessPending(ctx); err != nil || n != 1 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	got, err := f.captures.Get(ctx, capture.ID)
	if err != nil || got == nil || got.Status != audio.StatusTranscribed {
		t.Fatalf("capture should stay transcribed on device, got %#v %v", got, err)
	}
}

func TestProcessPendingIsReplaySafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	capture := f.capture(t, audio.Metadata{})
	if _, err := f.mutations.Enqueue(ctx, queue.CreateRecord{Table: voice.DefaultNoteTable, Data: map[string]any{"id": capture.ID}},
		queue.WithItemID("audio-"+capture.ID+"-0")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	p, err := voice.NewProcessor(f.captures, f.mutations, &scriptedTranscriber{})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if _, err := p.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	stats, err := f.mutations.Stats(ctx)
	if err != nil || stats.Total != 1 {
		t.Fatalf("replay created duplicates: %#v %v", stats, err)
	}
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	if _, err := voice.NewProcessor(nil, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
