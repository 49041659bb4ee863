package workflow

import (
	"context"
	"errors"
	"time"

	"fieldsync/internal/logging"
)

// Start recovers work interrupted by a crash and begins the trigger loop. A
// startup pass is queued immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	m.recover(runCtx)
	m.Trigger(TriggerStartup)
	go m.run(runCtx)
	return nil
}

// Stop terminates the trigger loop and waits for an in-flight pass.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Trigger requests a pass. It never blocks; when a pass is already queued
// the request is coalesced into it and false is returned.
func (m *Manager) Trigger(trigger Trigger) bool {
	select {
	case m.triggers <- trigger:
		return true
	default:
		m.logger.Debug("sync trigger coalesced", logging.String(logging.FieldTrigger, string(trigger)))
		return false
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.periodic > 0 {
		ticker := time.NewTicker(m.periodic)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-m.triggers:
			m.runTriggered(ctx, trigger)
		case <-tick:
			if m.online() {
				m.runTriggered(ctx, TriggerPeriodic)
			}
		}
	}
}

func (m *Manager) runTriggered(ctx context.Context, trigger Trigger) {
	if _, err := m.RunPass(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("sync pass failed",
			logging.String(logging.FieldTrigger, string(trigger)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pass_failed"),
			logging.String(logging.FieldErrorHint, "check the local queue database"),
		)
	}
}

// recover resets items a crashed pass left in flight.
func (m *Manager) recover(ctx context.Context) {
	if n, err := m.deps.Queue.ResetStuckProcessing(ctx); err != nil {
		m.logger.Warn("reset stuck mutations failed; items may stay processing",
			logging.Error(err),
			logging.String(logging.FieldEventType, "recover_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	} else if n > 0 {
		m.logger.Info("recovered interrupted mutations", logging.Int("count", n))
	}
	if m.deps.Audio == nil {
		return
	}
	if n, err := m.deps.Audio.ResetStuckTranscribing(ctx); err != nil {
		m.logger.Warn("reset stuck audio failed", logging.Error(err))
	} else if n > 0 {
		m.logger.Info("recovered interrupted transcriptions", logging.Int("count", n))
	}
}

func (m *Manager) online() bool {
	if m.deps.Connectivity == nil {
		return true
	}
	return m.deps.Connectivity.Online()
}
