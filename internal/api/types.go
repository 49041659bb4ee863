package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// EnqueueRequest submits one offline mutation. Kind selects which fields apply:
// create uses Table/TenantID/Data, update adds RecordID and BaseUpdatedAt, and
// resolve_conflict uses ConflictID/Strategy/ResolvedData.
type EnqueueRequest struct {
	Kind          string         `json:"kind"`
	Table         string         `json:"table,omitempty"`
	TenantID      string         `json:"tenantId,omitempty"`
	RecordID      string         `json:"recordId,omitempty"`
	BaseUpdatedAt string         `json:"baseUpdatedAt,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	ConflictID    string         `json:"conflictId,omitempty"`
	Strategy      string         `json:"strategy,omitempty"`
	ResolvedData  map[string]any `json:"resolvedData,omitempty"`
	OptimisticID  string         `json:"optimisticId,omitempty"`
}

// QueueItem describes a queued mutation in a transport-friendly format.
type QueueItem struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	Summary      string          `json:"summary,omitempty"`
	RetryCount   int             `json:"retryCount"`
	LastError    string          `json:"lastError,omitempty"`
	OptimisticID string          `json:"optimisticId,omitempty"`
	ConflictID   string          `json:"conflictId,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// QueueStats mirrors queue.Stats.
type QueueStats struct {
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Oldest     string `json:"oldest,omitempty"`
}

// QueueListResponse wraps queue items and counts.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
	Stats QueueStats  `json:"stats"`
}

// EnqueueResponse returns the stored item.
type EnqueueResponse struct {
	Item QueueItem `json:"item"`
}

// RetryRequest selects failed items to retry; empty IDs retries every failed item.
type RetryRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// CountResponse reports how many records an action touched.
type CountResponse struct {
	Count int `json:"count"`
}

// SyncResponse reports whether a manual trigger was accepted.
// Triggered is false when a pass is already queued.
type SyncResponse struct {
	Triggered bool `json:"triggered"`
}

// AudioCapture describes a queued voice capture without its blob.
type AudioCapture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Source        string `json:"source,omitempty"`
	Form          string `json:"form,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	Encoding      string `json:"encoding"`
	ContentType   string `json:"contentType,omitempty"`
	OriginalBytes int    `json:"originalBytes"`
	Size          int    `json:"size"`
	Retries       int    `json:"retries"`
	Transcript    string `json:"transcript,omitempty"`
	LastError     string `json:"lastError,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// AudioListResponse wraps queued captures.
type AudioListResponse struct {
	Items []AudioCapture `json:"items"`
}

// AudioStats mirrors audio.StorageStats.
type AudioStats struct {
	Count        int    `json:"count"`
	Pending      int    `json:"pending"`
	Transcribing int    `json:"transcribing"`
	Transcribed  int    `json:"transcribed"`
	Failed       int    `json:"failed"`
	TotalBytes   int64  `json:"totalBytes"`
	Oldest       string `json:"oldest,omitempty"`
}

// Conflict describes a detected divergence.
type Conflict struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	DeviceID        string         `json:"deviceId,omitempty"`
	Table           string         `json:"table"`
	RecordID        string         `json:"recordId"`
	Resolution      string         `json:"resolution"`
	ClientData      map[string]any `json:"clientData"`
	ServerData      map[string]any `json:"serverData"`
	ResolvedData    map[string]any `json:"resolvedData,omitempty"`
	ServerUpdatedAt string         `json:"serverUpdatedAt,omitempty"`
	CreatedAt       string         `json:"createdAt,omitempty"`
	ResolvedAt      string         `json:"resolvedAt,omitempty"`
	AppliedAt       string         `json:"appliedAt,omitempty"`
}

// ConflictListResponse wraps conflicts.
type ConflictListResponse struct {
	Items []Conflict `json:"items"`
}

// ResolveRequest records a decision for a conflict. The decision is queued
// as a mutation so it applies once the authority is reachable.
type ResolveRequest struct {
	Strategy     string         `json:"strategy"`
	ResolvedData map[string]any `json:"resolvedData,omitempty"`
}

// Session summarizes one sync pass.
type Session struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	StartedAt  string `json:"startedAt"`
	EndedAt    string `json:"endedAt,omitempty"`
	DurationMS int64  `json:"durationMs"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Held       int    `json:"held"`
	Retried    int    `json:"retried"`
	Failed     int    `json:"failed"`
	Audio      int    `json:"audio"`
	Abandoned  bool   `json:"abandoned"`
	Error      string `json:"error,omitempty"`
}

// SyncStatus summarizes orchestrator state.
type SyncStatus struct {
	Running     bool       `json:"running"`
	Online      bool       `json:"online"`
	PassActive  bool       `json:"passActive"`
	LastError   string     `json:"lastError,omitempty"`
	LastSession *Session   `json:"lastSession,omitempty"`
	Queue       QueueStats `json:"queue"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool       `json:"running"`
	PID           int        `json:"pid"`
	DeviceID      string     `json:"deviceId"`
	TenantID      string     `json:"tenantId,omitempty"`
	QueueDBPath   string     `json:"queueDbPath"`
	LockFilePath  string     `json:"lockFilePath"`
	Telemetry     bool       `json:"telemetry"`
	NetlinkEvents bool       `json:"netlinkEvents"`
	Sync          SyncStatus `json:"sync"`
	Audio         AudioStats `json:"audio"`
	Sessions      []Session  `json:"sessions,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
