package queue_test

import (
	"errors"
	"testing"
	"time"

	"fieldsync/internal/queue"
	"fieldsync/internal/services"
)

func TestSummaries(t *testing.T) {
	cases := []struct {
		name string
		m    queue.Mutation
		want string
	}{
		{"create with ear tag", queue.CreateRecord{Table: "animals", Data: map[string]any{"earTag": "X001"}}, "Created animal X001"},
		{"create without label", queue.CreateRecord{Table: "health_records", Data: map[string]any{"weight": 12}}, "Created new health record"},
		{"update falls back to id", queue.UpdateRecord{Table: "pastures", RecordID: "p-9", Data: map[string]any{"grazed": true}}, "Updated pasture p-9"},
		{"update with name", queue.UpdateRecord{Table: "batteries", RecordID: "b-1", Data: map[string]any{"name": "North"}}, "Updated battery North"},
		{"resolve", queue.ResolveConflict{ConflictID: "c-1", Strategy: "server_wins"}, "Resolved conflict c-1 (server_wins)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Summary(); got != tc.want {
				t.Fatalf("Summary() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEncodeDecodeUpdate(t *testing.T) {
	base := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	kind, payload, err := queue.EncodeMutation(queue.UpdateRecord{Table: "animals", RecordID: "a-1", BaseUpdatedAt: base, Data: map[string]any{"weight": 410.5}})
	if err != nil {
		t.Fatalf("EncodeMutation: %v", err)
	}
	m, err := queue.DecodeMutation(kind, payload)
	if err != nil {
		t.Fatalf("DecodeMutation: %v", err)
	}
	update, ok := m.(queue.UpdateRecord)
	if !ok {
		t.Fatalf("expected UpdateRecord, got %T", m)
	}
	if !update.BaseUpdatedAt.Equal(base) || update.Data["weight"] != 410.5 {
		t.Fatalf("unexpected decode %#v", update)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := queue.DecodeMutation("delete", []byte(`{}`)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := queue.EncodeMutation(nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for nil mutation, got %v", err)
	}
}

func TestKindTitle(t *testing.T) {
	if got := queue.KindResolveConflict.Title(); got != "Resolve Conflict" {
		t.Fatalf("Title() = %q", got)
	}
}
