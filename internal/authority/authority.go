package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldsync/internal/services"
)

// Table names the authority maintains for sync bookkeeping.
const (
	TelemetryTable = "sync_telemetry"
	ConflictTable  = "sync_conflicts"
)

// Record is an authority row and its last-modified timestamp.
type Record struct {
	Data      map[string]any
	UpdatedAt time.Time
}

// Client is the authority request/response contract.
type Client interface {
	ReadRecord(ctx context.Context, table, id string) (*Record, error)
	InsertRecord(ctx context.Context, table string, data map[string]any) (*Record, error)
	UpdateRecord(ctx context.Context, table, id string, data map[string]any) (*Record, error)
}

// Capabilities lists optional authority features discovered at startup.
type Capabilities struct {
	Telemetry      bool `json:"telemetry"`
	ConflictMirror bool `json:"conflict_mirror"`
}

// CapabilityProber reports optional authority features.
type CapabilityProber interface {
	Capabilities(ctx context.Context) (Capabilities, error)
}

// HealthChecker reports whether the authority is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Code classifies authority failures.
type Code string

const (
	CodeNetwork    Code = "network"
	CodeConstraint Code = "constraint_violation"
	CodePermission Code = "permission"
	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
)

// Error is returned by every Client implementation.
type Error struct {
	Code     Code
	Table    string
	RecordID string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Table != "" {
		b.WriteString(" on ")
		b.WriteString(e.Table)
		if e.RecordID != "" {
			b.WriteByte('/')
			b.WriteString(e.RecordID)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the taxonomy marker and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.marker()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ErrorKind implements services.ErrorClassifier.
func (e *Error) ErrorKind() string { return string(e.Code) }

func (e *Error) marker() error {
	switch e.Code {
	case CodeNetwork:
		return services.ErrTransient
	case CodeConstraint, CodeValidation:
		return services.ErrValidation
	case CodePermission:
		return services.ErrPermission
	case CodeNotFound:
		return services.ErrNotFound
	default:
		return services.ErrTransient
	}
}

func newError(code Code, table, id, message string, err error) *Error {
	return &Error{Code: code, Table: table, RecordID: id, Message: message, Err: err}
}

// CodeOf returns the authority code carried by err, or "" when none.
func CodeOf(err error) Code {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

// Retryable reports whether another attempt could succeed. Network failures
// and errors that are not authority errors (timeouts, cancellations) retry;
// constraint, permission, validation, and not-found failures will not
// resolve themselves.
func Retryable(err error) bool {
	if err == nil || services.IsFatal(err) {
		return false
	}
	switch CodeOf(err) {
	case "", CodeNetwork:
		return true
	default:
		return false
	}
}

// UpdatedAtFrom extracts the updated_at field from an authority row.
func UpdatedAtFrom(data map[string]any) (time.Time, error) {
	raw, ok := data["updated_at"]
	if !ok || raw == nil {
		return time.Time{}, fmt.Errorf("record has no updated_at")
	}
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05.999999"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable updated_at %q", v)
	default:
		return time.Time{}, fmt.Errorf("unexpected updated_at type %T", raw)
	}
}

func recordFrom(table, id string, data map[string]any) (*Record, error) {
	updated, err := UpdatedAtFrom(data)
	if err != nil {
		return nil, newError(CodeValidation, table, id, "authority response", err)
	}
	return &Record{Data: data, UpdatedAt: updated}, nil
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
