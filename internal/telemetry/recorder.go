// Package telemetry records sync session summaries on the authority when it
// advertises a telemetry table.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/authority"
	"fieldsync/internal/logging"
	"fieldsync/internal/workflow"
)

const insertTimeout = 10 * time.Second

// Recorder inserts one row per non-empty session. It is decided once at
// construction whether the authority supports telemetry; an unsupported
// authority yields a recorder that drops everything.
type Recorder struct {
	client   authority.Client
	logger   *slog.Logger
	deviceID string
	tenantID string
	enabled  bool

	wg sync.WaitGroup
}

// NewRecorder probes client for telemetry support.
func NewRecorder(ctx context.Context, client authority.Client, deviceID, tenantID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Recorder{
		client:   client,
		logger:   logging.NewComponentLogger(logger, "telemetry"),
		deviceID: deviceID,
		tenantID: tenantID,
	}
	prober, ok := client.(authority.CapabilityProber)
	if !ok {
		r.logger.Info("authority does not report capabilities; telemetry disabled")
		return r
	}
	caps, err := prober.Capabilities(ctx)
	if err != nil {
		r.logger.Warn("capability probe failed; telemetry disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "telemetry_probe_failed"),
			logging.String(logging.FieldImpact, "sync sessions are not reported until restart"),
		)
		return r
	}
	r.enabled = caps.Telemetry
	r.logger.Info("telemetry capability probed", logging.Bool("enabled", r.enabled))
	return r
}

// Enabled reports whether sessions are recorded.
func (r *Recorder) Enabled() bool {
	return r != nil && r.enabled
}

// ObserveSession implements workflow.SessionObserver. The insert runs in the
// background and failures are only logged.
func (r *Recorder) ObserveSession(ctx context.Context, session workflow.Session) {
	if !r.Enabled() {
		return
	}
	if session.Processed == 0 && session.Audio == 0 && session.Error == "" {
		return
	}
	row := r.row(session)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertTimeout)
		defer cancel()
		if _, err := r.client.InsertRecord(insertCtx, authority.TelemetryTable, row); err != nil {
			r.logger.Debug("telemetry insert failed",
				logging.String(logging.FieldSessionID, session.ID),
				logging.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight inserts finish.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *Recorder) row(session workflow.Session) map[string]any {
	row := map[string]any{
		"id":          session.ID,
		"device_id":   r.deviceID,
		"tenant_id":   r.tenantID,
		"trigger":     string(session.Trigger),
		"started_at":  session.StartedAt.UTC().Format(time.RFC3339Nano),
		"ended_at":    session.EndedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": session.Duration().Milliseconds(),
		"processed":   session.Processed,
		"succeeded":   session.Succeeded,
		"held":        session.Held,
		"retried":     session.Retried,
		"failed":      session.Failed,
		"audio":       session.Audio,
		"abandoned":   session.Abandoned,
	}
	if session.Error != "" {
		row["error"] = session.Error
	}
	return row
}

var _ workflow.SessionObserver = (*Recorder)(nil)
