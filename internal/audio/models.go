package audio

import "time"

// Status represents the lifecycle of a capture.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusFailed       Status = "failed"
)

// Encoding names how a stored blob was transformed at admission.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingOpus     Encoding = "opus"
	EncodingZstd     Encoding = "zstd"
)

// Metadata records where a capture came from.
type Metadata struct {
	Source        string            `json:"source,omitempty"`
	Form          string            `json:"form,omitempty"`
	Extractor     string            `json:"extractor,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Item is one queued capture. Blob is stored alongside, not in the JSON body.
type Item struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Status        Status    `json:"status"`
	Transcript    string    `json:"transcript,omitempty"`
	Retries       int       `json:"retries"`
	LastError     string    `json:"last_error,omitempty"`
	Metadata      Metadata  `json:"metadata"`
	Encoding      Encoding  `json:"encoding"`
	ContentType   string    `json:"content_type,omitempty"`
	OriginalBytes int       `json:"original_bytes"`
	Size          int       `json:"size"`
	Blob          []byte    `json:"-"`
}

// StorageStats summarizes the capture queue for UI and ops visibility.
type StorageStats struct {
	Count        int       `json:"count"`
	Pending      int       `json:"pending"`
	Transcribing int       `json:"transcribing"`
	Transcribed  int       `json:"transcribed"`
	Failed       int       `json:"failed"`
	TotalBytes   int64     `json:"total_bytes"`
	Oldest       time.Time `json:"oldest,omitempty"`
}
