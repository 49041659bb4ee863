package api

import (
	"fmt"
	"strings"
	"time"

	"fieldsync/internal/conflict"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
)

// Mutation validates the request and builds the queue variant it describes.
// The queue itself accepts any well-formed mutation, so malformed UI input is
// rejected here rather than failing later during sync.
func (r EnqueueRequest) Mutation() (queue.Mutation, error) {
	kind := queue.Kind(strings.TrimSpace(r.Kind))
	table := strings.TrimSpace(r.Table)
	switch kind {
	case queue.KindCreate:
		if table == "" {
			return nil, invalid("create requires a table")
		}
		if len(r.Data) == 0 {
			return nil, invalid("create requires data")
		}
		return queue.CreateRecord{Table: table, TenantID: strings.TrimSpace(r.TenantID), Data: r.Data}, nil
	case queue.KindUpdate:
		recordID := strings.TrimSpace(r.RecordID)
		if table == "" || recordID == "" {
			return nil, invalid("update requires a table and record id")
		}
		if len(r.Data) == 0 {
			return nil, invalid("update requires data")
		}
		base, err := ParseTime(r.BaseUpdatedAt)
		if err != nil {
			return nil, invalid(fmt.Sprintf("update base timestamp: %v", err))
		}
		return queue.UpdateRecord{
			Table:         table,
			TenantID:      strings.TrimSpace(r.TenantID),
			RecordID:      recordID,
			BaseUpdatedAt: base,
			Data:          r.Data,
		}, nil
	case queue.KindResolveConflict:
		return ResolveRequest{Strategy: r.Strategy, ResolvedData: r.ResolvedData}.Mutation(r.ConflictID)
	default:
		return nil, invalid(fmt.Sprintf("unknown mutation kind %q", r.Kind))
	}
}

// Mutation builds the queued resolution for conflictID.
func (r ResolveRequest) Mutation(conflictID string) (queue.Mutation, error) {
	conflictID = strings.TrimSpace(conflictID)
	if conflictID == "" {
		return nil, invalid("resolution requires a conflict id")
	}
	strategy, ok := conflict.ParseStrategy(strings.TrimSpace(r.Strategy))
	if !ok {
		return nil, invalid(fmt.Sprintf("unknown strategy %q", r.Strategy))
	}
	if strategy == conflict.Merged && len(r.ResolvedData) == 0 {
		return nil, invalid("merged resolution requires resolved data")
	}
	if strategy != conflict.Merged && len(r.ResolvedData) > 0 {
		return nil, invalid("resolved data only applies to merged resolutions")
	}
	return queue.ResolveConflict{ConflictID: conflictID, Strategy: string(strategy), ResolvedData: r.ResolvedData}, nil
}

// ParseTime accepts RFC3339 with or without fractional seconds.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp required")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func invalid(message string) error {
	return services.Wrap(services.ErrValidation, "api", "enqueue", message, nil)
}
