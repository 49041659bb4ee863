package api

import (
	"time"

	"fieldsync/internal/audio"
	"fieldsync/internal/conflict"
	"fieldsync/internal/queue"
	"fieldsync/internal/workflow"
)

// FromQueueItem converts a queue item into its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	return QueueItem{
		ID:           item.ID,
		Kind:         string(item.Kind),
		Status:       string(item.Status),
		Summary:      item.Summary,
		RetryCount:   item.RetryCount,
		LastError:    item.LastError,
		OptimisticID: item.OptimisticID,
		ConflictID:   item.ConflictID,
		CreatedAt:    formatTime(item.CreatedAt),
		UpdatedAt:    formatTime(item.UpdatedAt),
		Payload:      item.Payload,
	}
}

// FromQueueItems converts a slice, preserving order.
func FromQueueItems(items []*queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, FromQueueItem(item))
	}
	return out
}

// FromQueueStats converts queue counts.
func FromQueueStats(stats queue.Stats) QueueStats {
	return QueueStats{
		Total:      stats.Total,
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		Oldest:     formatTime(stats.Oldest),
	}
}

// FromAudioItem converts a capture without its blob.
func FromAudioItem(item *audio.Item) AudioCapture {
	if item == nil {
		return AudioCapture{}
	}
	return AudioCapture{
		ID:            item.ID,
		Status:        string(item.Status),
		Source:        item.Metadata.Source,
		Form:          item.Metadata.Form,
		TenantID:      item.Metadata.TenantID,
		Encoding:      string(item.Encoding),
		ContentType:   item.ContentType,
		OriginalBytes: item.OriginalBytes,
		Size:          item.Size,
		Retries:       item.Retries,
		Transcript:    item.Transcript,
		LastError:     item.LastError,
		CreatedAt:     formatTime(item.CreatedAt),
	}
}

// FromAudioStats converts capture storage counts.
func FromAudioStats(stats audio.StorageStats) AudioStats {
	return AudioStats{
		Count:        stats.Count,
		Pending:      stats.Pending,
		Transcribing: stats.Transcribing,
		Transcribed:  stats.Transcribed,
		Failed:       stats.Failed,
		TotalBytes:   stats.TotalBytes,
		Oldest:       formatTime(stats.Oldest),
	}
}

// FromConflict converts a conflict.
func FromConflict(c *conflict.Conflict) Conflict {
	if c == nil {
		return Conflict{}
	}
	return Conflict{
		ID:              c.ID,
		TenantID:        c.TenantID,
		DeviceID:        c.DeviceID,
		Table:           c.TableName,
		RecordID:        c.RecordID,
		Resolution:      string(c.Resolution),
		ClientData:      c.ClientData,
		ServerData:      c.ServerData,
		ResolvedData:    c.ResolvedData,
		ServerUpdatedAt: formatTime(c.ServerUpdatedAt),
		CreatedAt:       formatTime(c.CreatedAt),
		ResolvedAt:      formatTimePtr(c.ResolvedAt),
		AppliedAt:       formatTimePtr(c.AppliedAt),
	}
}

// FromSession converts a sync session summary.
func FromSession(s workflow.Session) Session {
	return Session{
		ID:         s.ID,
		Trigger:    string(s.Trigger),
		StartedAt:  formatTime(s.StartedAt),
		EndedAt:    formatTime(s.EndedAt),
		DurationMS: s.Duration().Milliseconds(),
		Processed:  s.Processed,
		Succeeded:  s.Succeeded,
		Held:       s.Held,
		Retried:    s.Retried,
		Failed:     s.Failed,
		Audio:      s.Audio,
		Abandoned:  s.Abandoned,
		Error:      s.Error,
	}
}

// FromStatusSummary converts orchestrator diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) SyncStatus {
	status := SyncStatus{
		Running:    summary.Running,
		Online:     summary.Online,
		PassActive: summary.PassActive,
		LastError:  summary.LastError,
		Queue:      FromQueueStats(summary.QueueStats),
	}
	if summary.LastSession != nil {
		last := FromSession(*summary.LastSession)
		status.LastSession = &last
	}
	return status
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
