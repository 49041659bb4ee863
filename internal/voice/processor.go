package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fieldsync/internal/audio"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
)

// Processor drains the audio queue into the mutation queue.
type Processor struct {
	captures    *audio.Queue
	mutations   *queue.Queue
	transcriber Transcriber
	extractor   Extractor
	archiver    Archiver
	notifier    *notifications.Dispatcher
	logger      *slog.Logger
	maxRetries  int
}

// Option configures a Processor.
type Option func(*Processor)

// WithExtractor replaces the default NoteExtractor.
func WithExtractor(e Extractor) Option {
	return func(p *Processor) {
		if e != nil {
			p.extractor = e
		}
	}
}

// WithArchiver uploads each capture after it is transcribed.
func WithArchiver(a Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

// WithNotifier announces mutations created from audio.
func WithNotifier(d *notifications.Dispatcher) Option {
	return func(p *Processor) { p.notifier = d }
}

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxRetries bounds automatic transcription attempts per capture.
func WithMaxRetries(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// NewProcessor wires a processor.
func NewProcessor(captures *audio.Queue, mutations *queue.Queue, transcriber Transcriber, opts ...Option) (*Processor, error) {
	if captures == nil || mutations == nil || transcriber == nil {
		return nil, errors.New("voice processor requires audio queue, mutation queue, and transcriber")
	}
	p := &Processor{
		captures:    captures,
		mutations:   mutations,
		transcriber: transcriber,
		extractor:   NoteExtractor{},
		logger:      logging.NewNop(),
		maxRetries:  3,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "voice")
	return p, nil
}

// ProcessPending converts every pending capture and returns how many were
// transcribed. Per-capture failures are recorded on the capture and do not
// stop the run; only store failures and cancellation are returned.
func (p *Processor) ProcessPending(ctx context.Context) (int, error) {
	pending, err := p.captures.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	var archived []string
	archiveFailed := false
	for _, capture := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		ok, kept, err := p.processOne(ctx, capture)
		if err != nil {
			return done, err
		}
		if !ok {
			continue
		}
		done++
		if kept {
			archiveFailed = true
		} else {
			archived = append(archived, capture.ID)
		}
	}

	switch {
	case done == 0:
	case !archiveFailed:
		if _, err := p.captures.ClearTranscribed(ctx); err != nil {
			return done, err
		}
	default:
		for _, id := range archived {
			if err := p.captures.Remove(ctx, id); err != nil {
				return done, err
			}
		}
	}
	return done, nil
}

// processOne reports whether the capture was transcribed, and whether it must
// stay on the device because archiving failed.
func (p *Processor) processOne(ctx context.Context, capture *audio.Item) (bool, bool, error) {
	logger := p.logger.With(logging.CaptureID(capture.ID))

	claimed, err := p.captures.MarkTranscribing(ctx, capture.ID)
	if err != nil {
		if services.IsFatal(err) {
			return false, false, err
		}
		logger.Debug("capture skipped", logging.Error(err))
		return false, false, nil
	}

	data, contentType, err := audio.Decode(claimed)
	if err != nil {
		return false, false, p.fail(ctx, logger, claimed, err)
	}
	transcript, err := p.transcriber.Transcribe(ctx, data, contentType)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Leave nothing stuck in transcribing for the rest of this run.
			_, resetErr := p.captures.ResetStuckTranscribing(context.WithoutCancel(ctx))
			return false, false, errors.Join(err, resetErr)
		}
		return false, false, p.fail(ctx, logger, claimed, err)
	}

	mutations, err := p.extractor.Extract(ctx, transcript, claimed)
	if err != nil {
		return false, false, p.fail(ctx, logger, claimed, err)
	}
	for i, m := range mutations {
		// Stable ids make a replay after a crash return the earlier item.
		itemID := fmt.Sprintf("audio-%s-%d", claimed.ID, i)
		item, err := p.mutations.Enqueue(ctx, m, queue.WithItemID(itemID))
		if err != nil {
			if services.IsFatal(err) {
				return false, false, err
			}
			return false, false, p.fail(ctx, logger, claimed, err)
		}
		logger.Info("voice capture queued as mutation",
			logging.String(logging.FieldItemID, item.ID),
			logging.Kind(string(item.Kind)),
			logging.String(logging.FieldEventType, "voice_mutation_queued"),
		)
		p.notifier.Queued(item.Kind)
	}

	if _, err := p.captures.MarkTranscribed(ctx, claimed.ID, transcript); err != nil {
		return false, false, err
	}
	if p.archiver == nil {
		return true, false, nil
	}
	key, err := p.archiver.Archive(ctx, claimed, data)
	if err != nil {
		logging.WarnWithContext(logger, "audio archive upload failed", "voice_archive_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "capture stays on the device until the retention sweep"),
			logging.String(logging.FieldErrorHint, "check archive bucket settings and credentials"),
		)
		return true, true, nil
	}
	logger.Debug("capture archived", logging.String("key", key))
	return true, false, nil
}

// fail records a failed attempt. Captures with budget left go back to
// pending for the next pass.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, capture *audio.Item, cause error) error {
	message := strings.TrimSpace(cause.Error())
	if message == "" {
		message = "audio processing failed"
	}
	failed, err := p.captures.MarkFailed(ctx, capture.ID, message)
	if err != nil {
		return err
	}
	attrs := []logging.Attr{
		logging.Error(cause),
		logging.String("error_kind", services.Kind(cause)),
		logging.Int("retries", failed.Retries),
		logging.Int("max_retries", p.maxRetries),
	}
	if failed.Retries < p.maxRetries {
		if _, err := p.captures.ResetForRetry(ctx, capture.ID); err != nil {
			return err
		}
		logger.Warn("transcription failed; will retry", logging.Args(attrs...)...)
		return nil
	}
	attrs = append(attrs,
		logging.String(logging.FieldImpact, "capture will not be transcribed until retried manually"),
		logging.String(logging.FieldErrorHint, "retry with fieldsync audio retry"),
	)
	logging.ErrorWithContext(logger, "transcription failed permanently", "voice_transcription_failed", attrs...)
	return nil
}
