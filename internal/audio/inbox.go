package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fieldsync/internal/logging"
)

// settleDelay is how long a file must go without writes before it is ingested.
const settleDelay = 500 * time.Millisecond

const rejectedDir = "rejected"

var audioExtensions = map[string]string{
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// Inbox admits recordings dropped into a directory by a capture app. A
// recording may carry a sidecar "<file>.json" holding its Metadata. Admitted
// files are removed; oversized ones are moved to the rejected subdirectory.
type Inbox struct {
	dir     string
	queue   *Queue
	logger  *slog.Logger
	onQueue func(*Item)

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// NewInbox watches dir and queues recordings into q. onQueue, when set, runs
// after each successful admission.
func NewInbox(dir string, q *Queue, logger *slog.Logger, onQueue func(*Item)) *Inbox {
	return &Inbox{
		dir:     dir,
		queue:   q,
		logger:  logging.NewComponentLogger(logger, "audio-inbox"),
		onQueue: onQueue,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
	}
}

// Run ingests existing files and then watches for new ones until ctx ends.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("create audio inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch audio inbox %s: %w", in.dir, err)
	}

	in.ScanExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			in.stopTimers()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if _, ok := contentTypeFor(event.Name); ok {
				in.schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("audio inbox watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "audio_inbox_watch_error"),
				logging.String(logging.FieldErrorHint, "check inbox directory permissions"),
			)
		case path := <-in.ready:
			in.ingest(ctx, path)
		}
	}
}

// ScanExisting ingests recordings already present in the inbox.
func (in *Inbox) ScanExisting(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("audio inbox scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, entry.Name())
		if _, ok := contentTypeFor(path); ok {
			in.ingest(ctx, path)
		}
	}
}

func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if timer, ok := in.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	in.pending[path] = time.AfterFunc(settleDelay, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.ready <- path
	})
}

func (in *Inbox) stopTimers() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for path, timer := range in.pending {
		timer.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		in.logger.Warn("read inbox recording failed", logging.String("path", path), logging.Error(err))
		return
	}

	meta := in.readSidecar(path)
	if meta.ContentType == "" {
		meta.ContentType, _ = contentTypeFor(path)
	}
	if meta.Source == "" {
		meta.Source = "inbox"
	}

	item, err := in.queue.QueueAudio(ctx, data, meta)
	if errors.Is(err, ErrAudioTooLarge) {
		in.reject(path, err)
		return
	}
	if err != nil {
		logging.ErrorWithContext(in.logger, "queue inbox recording failed", "audio_inbox_failed",
			logging.String("path", path),
			logging.Error(err),
		)
		return
	}
	_ = os.Remove(path)
	_ = os.Remove(path + ".json")
	in.logger.Info("inbox recording queued", logging.ItemID(item.ID), logging.String("file", filepath.Base(path)))
	if in.onQueue != nil {
		in.onQueue(item)
	}
}

func (in *Inbox) readSidecar(path string) Metadata {
	var meta Metadata
	raw, err := os.ReadFile(path + ".json")
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		in.logger.Warn("ignoring unreadable recording sidecar", logging.String("path", path+".json"), logging.Error(err))
		return Metadata{}
	}
	return meta
}

func (in *Inbox) reject(path string, cause error) {
	dest := filepath.Join(in.dir, rejectedDir)
	if err := os.MkdirAll(dest, 0o755); err == nil {
		_ = os.Rename(path, filepath.Join(dest, filepath.Base(path)))
		_ = os.Rename(path+".json", filepath.Join(dest, filepath.Base(path)+".json"))
	}
	logging.WarnWithContext(in.logger, "inbox recording rejected", "audio_rejected",
		logging.String("file", filepath.Base(path)),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "recording was not queued for transcription"),
		logging.String(logging.FieldErrorHint, "record a shorter clip"),
	)
}

func contentTypeFor(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := audioExtensions[ext]; ok {
		return ct, true
	}
	if ct := mime.TypeByExtension(ext); strings.HasPrefix(ct, "audio/") {
		return ct, true
	}
	return "", false
}
