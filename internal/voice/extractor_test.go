package voice_test

import (
	"context"
	"testing"
	"time"

	"fieldsync/internal/audio"
	"fieldsync/internal/queue"
	"fieldsync/internal/voice"
)

func TestNoteExtractor(t *testing.T) {
	created := time.Date(2026, 9, 1, 6, 30, 0, 0, time.UTC)
	tests := []struct {
		name      string
		extractor voice.NoteExtractor
		meta      audio.Metadata
		text      string
		wantTable string
		wantCount int
	}{
		{name: "default table", text: "gate left open", wantTable: voice.DefaultNoteTable, wantCount: 1},
		{name: "configured table", extractor: voice.NoteExtractor{Table: "observations"}, text: "gate left open", wantTable: "observations", wantCount: 1},
		{name: "form wins", extractor: voice.NoteExtractor{Table: "observations"}, meta: audio.Metadata{Form: "treatments"}, text: "dosed 12", wantTable: "treatments", wantCount: 1},
		{name: "blank transcript", text: "   ", wantCount: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			capture := &audio.Item{ID: "cap-1", CreatedAt: created, Metadata: tc.meta}
			got, err := tc.extractor.Extract(context.Background(), tc.text, capture)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(got) != tc.wantCount {
				t.Fatalf("mutations = %d, want %d", len(got), tc.wantCount)
			}
			if tc.wantCount == 0 {
				return
			}
			create, ok := got[0].(queue.CreateRecord)
			if !ok {
				t.Fatalf("mutation type %T", got[0])
			}
			if create.Table != tc.wantTable || create.Data["id"] != "cap-1" {
				t.Fatalf("unexpected create %#v", create)
			}
		})
	}
}

func TestNoteExtractorCopiesMetadata(t *testing.T) {
	capture := &audio.Item{
		ID:        "cap-2",
		CreatedAt: time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC),
		Metadata: audio.Metadata{
			Source:        "mobile",
			TenantID:      "farm-1",
			CorrelationID: "corr-9",
			Extra:         map[string]string{"pasture_id": "p-9", "transcript": "ignored"},
		},
	}
	got, err := voice.NoteExtractor{}.Extract(context.Background(), "moved herd", capture)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	create := got[0].(queue.CreateRecord)
	want := map[string]any{
		"transcript":     "moved herd",
		"pasture_id":     "p-9",
		"source":         "mobile",
		"correlation_id": "corr-9",
		"recorded_at":    "2026-09-01T07:00:00Z",
	}
	for key, value := range want {
		if create.Data[key] != value {
			t.Fatalf("data[%s] = %#v, want %#v", key, create.Data[key], value)
		}
	}
	if create.TenantID != "farm-1" {
		t.Fatalf("tenant = %q", create.TenantID)
	}
}
