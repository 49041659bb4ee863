package workflow

import (
	"context"

	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// StatusSummary represents lightweight sync diagnostics.
type StatusSummary struct {
	Running     bool        `json:"running"`
	Online      bool        `json:"online"`
	PassActive  bool        `json:"pass_active"`
	LastError   string      `json:"last_error,omitempty"`
	LastSession *Session    `json:"last_session,omitempty"`
	QueueStats  queue.Stats `json:"queue"`
}

// Status returns the latest sync information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		PassActive: m.passActive,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if n := len(m.sessions); n > 0 {
		last := m.sessions[n-1]
		summary.LastSession = &last
	}
	m.mu.RUnlock()

	summary.Online = m.online()
	stats, err := m.deps.Queue.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

// Sessions returns the most recent sessions, oldest first.
func (m *Manager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setPassActive(active bool) {
	m.mu.Lock()
	m.passActive = active
	m.mu.Unlock()
}
