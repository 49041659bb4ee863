package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fieldsync/internal/services"
)

// Kind tags the mutation variant stored in an item.
type Kind string

const (
	KindCreate          Kind = "create"
	KindUpdate          Kind = "update"
	KindResolveConflict Kind = "resolve_conflict"
)

var titleCaser = cases.Title(language.English)

// Title renders the kind for notifications, e.g. "Resolve Conflict".
func (k Kind) Title() string {
	return titleCaser.String(strings.ReplaceAll(string(k), "_", " "))
}

// Mutation is the closed set of queued authority writes. Adding a variant
// requires a new case in every exhaustive switch over it.
type Mutation interface {
	Kind() Kind
	// Summary is a short human-readable description used in notifications.
	Summary() string
	isMutation()
}

// CreateRecord inserts a new record into an authority table.
type CreateRecord struct {
	Table    string         `json:"table"`
	TenantID string         `json:"tenant_id,omitempty"`
	Data     map[string]any `json:"data"`
}

// UpdateRecord edits an existing record. BaseUpdatedAt is the authority
// updated_at the client saw when the edit was made.
type UpdateRecord struct {
	Table         string         `json:"table"`
	TenantID      string         `json:"tenant_id,omitempty"`
	RecordID      string         `json:"record_id"`
	BaseUpdatedAt time.Time      `json:"base_updated_at"`
	Data          map[string]any `json:"data"`
}

// ResolveConflict carries a user's decision on a pending conflict so it
// syncs like any other offline action.
type ResolveConflict struct {
	ConflictID   string         `json:"conflict_id"`
	Strategy     string         `json:"strategy"`
	ResolvedData map[string]any `json:"resolved_data,omitempty"`
}

func (CreateRecord) Kind() Kind    { return KindCreate }
func (UpdateRecord) Kind() Kind    { return KindUpdate }
func (ResolveConflict) Kind() Kind { return KindResolveConflict }

func (CreateRecord) isMutation()    {}
func (UpdateRecord) isMutation()    {}
func (ResolveConflict) isMutation() {}

func (m CreateRecord) Summary() string {
	if label := RecordLabel(m.Data); label != "" {
		return fmt.Sprintf("Created %s %s", singular(m.Table), label)
	}
	return fmt.Sprintf("Created new %s", singular(m.Table))
}

func (m UpdateRecord) Summary() string {
	label := RecordLabel(m.Data)
	if label == "" {
		label = m.RecordID
	}
	return fmt.Sprintf("Updated %s %s", singular(m.Table), label)
}

func (m ResolveConflict) Summary() string {
	return fmt.Sprintf("Resolved conflict %s (%s)", m.ConflictID, m.Strategy)
}

// labelKeys are checked in order to name a record in summaries.
var labelKeys = []string{"earTag", "ear_tag", "tag", "name", "title", "id"}

// RecordLabel picks the most human-friendly identifier present in data.
func RecordLabel(data map[string]any) string {
	for _, key := range labelKeys {
		value, ok := data[key]
		if !ok || value == nil {
			continue
		}
		if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
			return text
		}
	}
	return ""
}

func singular(table string) string {
	table = strings.ReplaceAll(strings.TrimSpace(table), "_", " ")
	if table == "" {
		return "record"
	}
	if strings.HasSuffix(table, "ies") {
		return strings.TrimSuffix(table, "ies") + "y"
	}
	if strings.HasSuffix(table, "s") && !strings.HasSuffix(table, "ss") {
		return strings.TrimSuffix(table, "s")
	}
	return table
}

// EncodeMutation serializes m for storage.
func EncodeMutation(m Mutation) (Kind, json.RawMessage, error) {
	if m == nil {
		return "", nil, services.Wrap(services.ErrValidation, "queue", "encode", "mutation is nil", nil)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", nil, services.Wrap(services.ErrValidation, "queue", "encode", string(m.Kind()), err)
	}
	return m.Kind(), payload, nil
}

// DecodeMutation restores the variant for kind from payload.
func DecodeMutation(kind Kind, payload json.RawMessage) (Mutation, error) {
	var (
		m   Mutation
		err error
	)
	switch kind {
	case KindCreate:
		var v CreateRecord
		err = json.Unmarshal(payload, &v)
		m = v
	case KindUpdate:
		var v UpdateRecord
		err = json.Unmarshal(payload, &v)
		m = v
	case KindResolveConflict:
		var v ResolveConflict
		err = json.Unmarshal(payload, &v)
		m = v
	default:
		return nil, services.Wrap(services.ErrValidation, "queue", "decode", fmt.Sprintf("unknown mutation kind %q", kind), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "decode", string(kind), err)
	}
	return m, nil
}
