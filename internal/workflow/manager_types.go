package workflow

import (
	"context"
	"time"

	"fieldsync/internal/apply"
	"fieldsync/internal/queue"
)

// Trigger names what started a sync pass.
type Trigger string

const (
	TriggerConnectivity Trigger = "connectivity"
	TriggerPeriodic     Trigger = "periodic"
	TriggerManual       Trigger = "manual"
	TriggerStartup      Trigger = "startup"
)

// ParseTrigger validates a trigger name.
func ParseTrigger(value string) (Trigger, bool) {
	switch Trigger(value) {
	case TriggerConnectivity, TriggerPeriodic, TriggerManual, TriggerStartup:
		return Trigger(value), true
	default:
		return "", false
	}
}

// Applier performs the authority writes for one item.
type Applier interface {
	Apply(ctx context.Context, item *queue.Item) (apply.Result, error)
}

// Connectivity reports whether the authority is currently reachable.
type Connectivity interface {
	Online() bool
}

// AudioProcessor turns pending audio captures into queued mutations. It runs
// at the start of each pass so transcribed captures sync in the same pass.
type AudioProcessor interface {
	ProcessPending(ctx context.Context) (int, error)
}

// MirrorSyncer replicates local conflict state to the authority.
type MirrorSyncer interface {
	SyncMirrors(ctx context.Context) (int, error)
}

// AudioMaintainer expires old captures and recovers interrupted ones.
type AudioMaintainer interface {
	CleanupExpired(ctx context.Context) (int, error)
	ResetStuckTranscribing(ctx context.Context) (int, error)
}

// SessionObserver receives every finished session.
type SessionObserver interface {
	ObserveSession(ctx context.Context, session Session)
}

// Deps bundles the collaborators a Manager drives. Queue and Applier are
// required; the rest are optional.
type Deps struct {
	Queue          *queue.Queue
	Applier        Applier
	Connectivity   Connectivity
	Audio          AudioMaintainer
	AudioProcessor AudioProcessor
	Mirrors        MirrorSyncer
	Observers      []SessionObserver
}

// Session describes one sync pass. It is observability data only.
type Session struct {
	ID        string    `json:"id"`
	Trigger   Trigger   `json:"trigger"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Held      int       `json:"held"`
	Retried   int       `json:"retried"`
	Failed    int       `json:"failed"`
	Audio     int       `json:"audio"`
	Abandoned bool      `json:"abandoned"`
	Error     string    `json:"error,omitempty"`

	failedIDs []string
	lastError string
}

// Duration returns the elapsed pass time.
func (s Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
