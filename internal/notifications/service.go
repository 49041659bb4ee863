package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

const userAgent = "Fieldsync-Go/0.1.0"

// Service defines the notification surface exposed to sync components.
type Service interface {
	NotifySuccess(ctx context.Context, kind queue.Kind, summary string) error
	NotifyFailure(ctx context.Context, itemCount int, itemID, reason string) error
	NotifyQueued(ctx context.Context, kind queue.Kind) error
	NotifyConflict(ctx context.Context, table, recordID, conflictID string) error
	NotifyPassCompleted(ctx context.Context, succeeded, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
		toggles:  cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	toggles  config.Notifications
}

func (n *ntfyService) NotifySuccess(ctx context.Context, kind queue.Kind, summary string) error {
	if !n.toggles.Success {
		return nil
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = kind.Title()
	}
	data := payload{
		title:   "Fieldsync - Synced",
		message: fmt.Sprintf("✅ %s", summary),
		tags:    []string{"fieldsync", "sync", string(kind)},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFailure(ctx context.Context, itemCount int, itemID, reason string) error {
	if !n.toggles.Failure {
		return nil
	}
	var builder strings.Builder
	if itemCount <= 1 {
		builder.WriteString("❌ 1 change could not be synced")
	} else {
		fmt.Fprintf(&builder, "❌ %d changes could not be synced", itemCount)
	}
	if itemID = strings.TrimSpace(itemID); itemID != "" {
		builder.WriteString(" (item ")
		builder.WriteString(itemID)
		builder.WriteString(")")
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString(": ")
		builder.WriteString(reason)
	}
	data := payload{
		title:    "Fieldsync - Sync Failed",
		message:  builder.String(),
		tags:     []string{"fieldsync", "sync", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueued(ctx context.Context, kind queue.Kind) error {
	if !n.toggles.Queued {
		return nil
	}
	data := payload{
		title:    "Fieldsync - Saved Offline",
		message:  fmt.Sprintf("📥 %s saved and will sync when online", kind.Title()),
		tags:     []string{"fieldsync", "queue", string(kind)},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConflict(ctx context.Context, table, recordID, conflictID string) error {
	if !n.toggles.Conflict {
		return nil
	}
	message := fmt.Sprintf("⚠️ %s/%s was changed elsewhere\nReview required", strings.TrimSpace(table), strings.TrimSpace(recordID))
	if conflictID = strings.TrimSpace(conflictID); conflictID != "" {
		message = fmt.Sprintf("%s (conflict %s)", message, conflictID)
	}
	data := payload{
		title:    "Fieldsync - Conflict",
		message:  message,
		tags:     []string{"fieldsync", "conflict", "review"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPassCompleted(ctx context.Context, succeeded, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var message string
	var title string
	if failed == 0 {
		title = "Fieldsync - Sync Complete"
		message = fmt.Sprintf("Sync complete: %d changes synced in %s", succeeded, durationText)
	} else {
		title = "Fieldsync - Sync Complete (with errors)"
		message = fmt.Sprintf("Sync complete: %d synced, %d failed in %s", succeeded, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"fieldsync", "sync", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fieldsync - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"fieldsync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifySuccess(context.Context, queue.Kind, string) error            { return nil }
func (noopService) NotifyFailure(context.Context, int, string, string) error           { return nil }
func (noopService) NotifyQueued(context.Context, queue.Kind) error                     { return nil }
func (noopService) NotifyConflict(context.Context, string, string, string) error       { return nil }
func (noopService) NotifyPassCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
