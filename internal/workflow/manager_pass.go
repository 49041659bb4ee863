package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fieldsync/internal/authority"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
)

// RunPass performs one sync pass and returns its session. Concurrent callers
// are serialized; a pass never overlaps another. The returned error is set
// only when the pass could not proceed, such as when the local store fails.
func (m *Manager) RunPass(ctx context.Context, trigger Trigger) (Session, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	m.setPassActive(true)
	defer m.setPassActive(false)

	session := Session{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: m.now().UTC(),
	}
	ctx = services.WithSessionID(ctx, session.ID)
	ctx = services.WithTrigger(ctx, string(trigger))
	logger := logging.WithContext(ctx, m.logger)

	err := m.runPass(ctx, logger, &session)
	session.EndedAt = m.now().UTC()
	if err != nil {
		session.Error = err.Error()
		m.setLastError(err)
	}
	m.finishSession(ctx, logger, session)
	return session, err
}

func (m *Manager) runPass(ctx context.Context, logger *slog.Logger, session *Session) error {
	m.maintainAudio(ctx, logger, session)

	items, err := m.deps.Queue.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logger.Debug("sync pass found no pending items")
		m.syncMirrors(ctx, logger)
		return nil
	}

	logger.Info("sync pass started",
		logging.Int("pending", len(items)),
		logging.String(logging.FieldEventType, "pass_started"),
	)
	for i, item := range items {
		if ctx.Err() != nil || !m.online() {
			session.Abandoned = true
			logger.Info("sync pass abandoned",
				logging.Int("remaining", len(items)-i),
				logging.String(logging.FieldEventType, "pass_abandoned"),
				logging.String(logging.FieldImpact, "remaining items stay pending for the next trigger"),
			)
			break
		}
		if err := m.processItem(ctx, session, item); err != nil {
			if errors.Is(err, context.Canceled) {
				session.Abandoned = true
				break
			}
			return err
		}
	}
	m.syncMirrors(ctx, logger)
	return nil
}

// processItem applies one item. It returns an error only for failures that
// must stop the pass: local store errors and cancellation.
func (m *Manager) processItem(ctx context.Context, session *Session, item *queue.Item) error {
	ctx = services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(ctx, m.logger).With(logging.Kind(string(item.Kind)))

	current, err := m.deps.Queue.SetStatus(ctx, item.ID, queue.StatusProcessing, "")
	if err != nil {
		if services.IsFatal(err) {
			return err
		}
		// Removed or retried by a user since the pass snapshot.
		logger.Debug("item skipped", logging.Error(err))
		return nil
	}
	session.Processed++

	result, applyErr := m.deps.Applier.Apply(ctx, current)
	if applyErr == nil {
		if _, err := m.deps.Queue.Complete(ctx, item.ID, result.Summary, result.ConflictID); err != nil {
			return err
		}
		if result.Held {
			session.Held++
			logger.Warn("mutation held for conflict review",
				logging.ConflictID(result.ConflictID),
				logging.Table(result.Table),
				logging.RecordID(result.RecordID),
				logging.String(logging.FieldEventType, "item_held"),
				logging.String(logging.FieldImpact, "the write waits for a conflict resolution"),
				logging.String(logging.FieldErrorHint, "resolve with fieldsync conflicts resolve"),
			)
			m.notifier.Conflict(result.Table, result.RecordID, result.ConflictID)
			return nil
		}
		session.Succeeded++
		logger.Info("mutation synced",
			logging.String("summary", result.Summary),
			logging.String(logging.FieldEventType, "item_synced"),
		)
		m.notifier.Success(item.Kind, result.Summary)
		return nil
	}

	if services.IsFatal(applyErr) {
		m.releaseFatal(ctx, logger, item, applyErr)
		return applyErr
	}
	return m.handleFailure(ctx, logger, session, item, applyErr)
}

// releaseFatal returns an item to pending when a fatal error stops the pass,
// so it stays visible with its error instead of sitting in processing until
// the next restart. The retry budget is untouched; the store may still be
// failing, so the reset is best effort.
func (m *Manager) releaseFatal(ctx context.Context, logger *slog.Logger, item *queue.Item, applyErr error) {
	message := strings.TrimSpace(applyErr.Error())
	if _, err := m.deps.Queue.SetStatus(context.WithoutCancel(ctx), item.ID, queue.StatusPending, message); err != nil {
		logging.WarnWithContext(logger, "could not release item after fatal error", "item_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the item stays in processing until the daemon restarts"),
		)
	}
}

func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, session *Session, item *queue.Item, applyErr error) error {
	message := strings.TrimSpace(applyErr.Error())
	if message == "" {
		message = "sync failed without error detail"
	}
	count, err := m.deps.Queue.IncrementRetry(ctx, item.ID)
	if err != nil {
		return err
	}

	retryable := authority.Retryable(applyErr)
	attrs := []logging.Attr{
		logging.Int("retry_count", count),
		logging.Int("max_retries", m.maxRetries),
		logging.String("error_kind", services.Kind(applyErr)),
		logging.Bool("retryable", retryable),
		logging.Error(applyErr),
	}

	if count < m.maxRetries {
		if _, err := m.deps.Queue.SetStatus(ctx, item.ID, queue.StatusPending, message); err != nil {
			return err
		}
		session.Retried++
		// Terminal errors still spend the budget but gain nothing from waiting.
		if !retryable {
			attrs = append(attrs, logging.String(logging.FieldEventType, "item_retry_scheduled"))
			logger.Warn("mutation rejected; will retry without backoff", logging.Args(attrs...)...)
			return nil
		}
		delay := Backoff(m.backoffBase, m.backoffMax, count)
		attrs = append(attrs,
			logging.Duration("backoff", delay),
			logging.String(logging.FieldEventType, "item_retry_scheduled"),
		)
		logger.Warn("mutation failed; will retry", logging.Args(attrs...)...)
		return m.sleep(ctx, delay)
	}

	if _, err := m.deps.Queue.SetStatus(ctx, item.ID, queue.StatusFailed, message); err != nil {
		return err
	}
	session.Failed++
	session.failedIDs = append(session.failedIDs, item.ID)
	session.lastError = message
	attrs = append(attrs,
		logging.Alert("sync_failure"),
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String(logging.FieldImpact, "the change will not sync until retried manually"),
		logging.String(logging.FieldErrorHint, "inspect with fieldsync queue list and retry with fieldsync queue retry"),
	)
	logging.ErrorWithContext(logger, "mutation failed permanently", "item_failed", attrs...)
	return nil
}

func (m *Manager) maintainAudio(ctx context.Context, logger *slog.Logger, session *Session) {
	if m.deps.Audio != nil {
		if n, err := m.deps.Audio.CleanupExpired(ctx); err != nil {
			logger.Warn("audio retention sweep failed", logging.Error(err))
		} else if n > 0 {
			logger.Info("expired audio captures purged", logging.Int("count", n))
		}
	}
	if m.deps.AudioProcessor == nil || !m.online() {
		return
	}
	n, err := m.deps.AudioProcessor.ProcessPending(ctx)
	session.Audio = n
	if err != nil {
		logging.WarnWithContext(logger, "audio processing incomplete", "audio_process_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pending captures are retried on the next pass"),
		)
	}
}

func (m *Manager) syncMirrors(ctx context.Context, logger *slog.Logger) {
	if m.deps.Mirrors == nil || ctx.Err() != nil || !m.online() {
		return
	}
	if n, err := m.deps.Mirrors.SyncMirrors(ctx); err != nil {
		logger.Warn("conflict mirror sync failed", logging.Error(err))
	} else if n > 0 {
		logger.Info("conflict mirrors updated", logging.Int("count", n))
	}
}

func (m *Manager) finishSession(ctx context.Context, logger *slog.Logger, session Session) {
	switch {
	case session.Failed == 1:
		m.notifier.Failure(1, session.failedIDs[0], session.lastError)
	case session.Failed > 1:
		m.notifier.Failure(session.Failed, "", "")
	}
	if session.Trigger == TriggerManual && session.Processed > 0 {
		m.notifier.PassCompleted(session.Succeeded+session.Held, session.Failed, session.Duration())
	}

	if session.Processed > 0 || session.Error != "" {
		logger.Info("sync pass finished",
			logging.Int("processed", session.Processed),
			logging.Int("succeeded", session.Succeeded),
			logging.Int("held", session.Held),
			logging.Int("retried", session.Retried),
			logging.Int("failed", session.Failed),
			logging.Bool("abandoned", session.Abandoned),
			logging.Duration("duration", session.Duration()),
			logging.String(logging.FieldEventType, "pass_finished"),
		)
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, session)
	if len(m.sessions) > sessionHistory {
		m.sessions = m.sessions[len(m.sessions)-sessionHistory:]
	}
	m.mu.Unlock()

	for _, observer := range m.deps.Observers {
		observer.ObserveSession(ctx, session)
	}
}
