package conflict

import (
	"time"
)

// Resolution is the decision recorded for a conflict.
type Resolution string

const (
	Pending    Resolution = "pending"
	ClientWins Resolution = "client_wins"
	ServerWins Resolution = "server_wins"
	Merged     Resolution = "merged"
)

// ParseStrategy validates a resolution strategy chosen by a user or policy.
// Pending is not a strategy.
func ParseStrategy(value string) (Resolution, bool) {
	switch Resolution(value) {
	case ClientWins, ServerWins, Merged:
		return Resolution(value), true
	default:
		return "", false
	}
}

// Conflict is a detected divergence awaiting or carrying a resolution.
type Conflict struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	DeviceID        string         `json:"device_id,omitempty"`
	TableName       string         `json:"table_name"`
	RecordID        string         `json:"record_id"`
	ClientData      map[string]any `json:"client_data"`
	ServerData      map[string]any `json:"server_data"`
	ServerUpdatedAt time.Time      `json:"server_updated_at,omitzero"`
	Resolution      Resolution     `json:"resolution"`
	ResolvedData    map[string]any `json:"resolved_data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	AppliedAt       *time.Time     `json:"applied_at,omitempty"`

	// MirroredResolution is the resolution last written to the authority
	// mirror; empty when the conflict has never been mirrored.
	MirroredResolution Resolution `json:"mirrored_resolution,omitempty"`
}

// IsPending reports whether the conflict still needs a decision.
func (c *Conflict) IsPending() bool {
	return c.Resolution == Pending
}

// Applied reports whether the resolution has been written to the authority.
func (c *Conflict) Applied() bool {
	return c.AppliedAt != nil
}

// Detection is the outcome of one conflict check.
type Detection struct {
	HasConflict     bool
	ServerData      map[string]any
	ServerUpdatedAt time.Time
}
