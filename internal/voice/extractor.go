package voice

import (
	"context"
	"strings"
	"time"

	"fieldsync/internal/audio"
	"fieldsync/internal/queue"
)

// DefaultNoteTable receives transcripts whose capture named no form.
const DefaultNoteTable = "voice_notes"

// Extractor turns a transcript into the mutations it implies.
type Extractor interface {
	Extract(ctx context.Context, transcript string, capture *audio.Item) ([]queue.Mutation, error)
}

// NoteExtractor records each transcript as one row in the table named by the
// capture's form. The row id is the capture id, so replaying a capture
// never creates a second row.
type NoteExtractor struct {
	Table string
}

// Extract implements Extractor. An empty transcript yields no mutations.
func (e NoteExtractor) Extract(_ context.Context, transcript string, capture *audio.Item) ([]queue.Mutation, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" || capture == nil {
		return nil, nil
	}
	meta := capture.Metadata
	table := strings.TrimSpace(meta.Form)
	if table == "" {
		table = e.Table
	}
	if table == "" {
		table = DefaultNoteTable
	}

	data := map[string]any{
		"id":          capture.ID,
		"transcript":  transcript,
		"recorded_at": capture.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for key, value := range meta.Extra {
		if _, taken := data[key]; !taken {
			data[key] = value
		}
	}
	if meta.Source != "" {
		data["source"] = meta.Source
	}
	if meta.CorrelationID != "" {
		data["correlation_id"] = meta.CorrelationID
	}
	return []queue.Mutation{queue.CreateRecord{Table: table, TenantID: meta.TenantID, Data: data}}, nil
}
