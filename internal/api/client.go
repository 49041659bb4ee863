package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAPIUnavailable reports that no daemon API is configured or listening.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon API returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running daemon's local HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon listening on bind. A bare
// host:port is treated as http.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Status returns daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, "", &out)
	return out, err
}

// Enqueue submits a mutation.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (QueueItem, error) {
	var out EnqueueResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/mutations", nil, req, &out)
	return out.Item, err
}

// ListQueue returns queue items, optionally filtered by status.
func (c *Client) ListQueue(ctx context.Context, statuses ...string) (QueueListResponse, error) {
	var out QueueListResponse
	err := c.do(ctx, http.MethodGet, "/api/queue", statusQuery(statuses), nil, "", &out)
	return out, err
}

// RetryQueue moves failed items back to pending. No ids retries every failed item.
func (c *Client) RetryQueue(ctx context.Context, ids ...string) (int, error) {
	var out CountResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/queue/retry", nil, RetryRequest{IDs: ids}, &out)
	return out.Count, err
}

// ClearCompleted removes completed queue items.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/clear-completed", nil, nil, "", &out)
	return out.Count, err
}

// Sync requests a manual sync pass.
func (c *Client) Sync(ctx context.Context) (SyncResponse, error) {
	var out SyncResponse
	err := c.do(ctx, http.MethodPost, "/api/sync", nil, nil, "", &out)
	return out, err
}

// AudioUpload carries capture metadata sent alongside an audio blob.
type AudioUpload struct {
	Source        string
	Form          string
	TenantID      string
	CorrelationID string
}

// AddAudio uploads a capture.
func (c *Client) AddAudio(ctx context.Context, data []byte, contentType string, meta AudioUpload) (AudioCapture, error) {
	query := url.Values{}
	setIf(query, "source", meta.Source)
	setIf(query, "form", meta.Form)
	setIf(query, "tenant", meta.TenantID)
	setIf(query, "correlation_id", meta.CorrelationID)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var out AudioCapture
	err := c.do(ctx, http.MethodPost, "/api/audio", query, bytes.NewReader(data), contentType, &out)
	return out, err
}

// ListAudio returns captures, optionally filtered by status.
func (c *Client) ListAudio(ctx context.Context, statuses ...string) ([]AudioCapture, error) {
	var out AudioListResponse
	err := c.do(ctx, http.MethodGet, "/api/audio", statusQuery(statuses), nil, "", &out)
	return out.Items, err
}

// AudioStats returns capture storage counts.
func (c *Client) AudioStats(ctx context.Context) (AudioStats, error) {
	var out AudioStats
	err := c.do(ctx, http.MethodGet, "/api/audio/stats", nil, nil, "", &out)
	return out, err
}

// CleanupAudio purges expired captures.
func (c *Client) CleanupAudio(ctx context.Context) (int, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, "/api/audio/cleanup", nil, nil, "", &out)
	return out.Count, err
}

// RetryAudio resets a failed capture to pending.
func (c *Client) RetryAudio(ctx context.Context, id string) (AudioCapture, error) {
	var out AudioCapture
	err := c.do(ctx, http.MethodPost, "/api/audio/"+url.PathEscape(id)+"/retry", nil, nil, "", &out)
	return out, err
}

// ListConflicts returns conflicts; all includes resolved ones.
func (c *Client) ListConflicts(ctx context.Context, all bool) ([]Conflict, error) {
	query := url.Values{}
	if all {
		query.Set("all", "1")
	}
	var out ConflictListResponse
	err := c.do(ctx, http.MethodGet, "/api/conflicts", query, nil, "", &out)
	return out.Items, err
}

// ResolveConflict queues a resolution for id.
func (c *Client) ResolveConflict(ctx context.Context, id string, req ResolveRequest) (QueueItem, error) {
	var out EnqueueResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/conflicts/"+url.PathEscape(id)+"/resolve", nil, req, &out)
	return out.Item, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, path, query, bytes.NewReader(encoded), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var payload ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
			statusErr.Message = payload.Error
			statusErr.Kind = payload.Kind
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports whether err means no daemon answered.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

func statusQuery(statuses []string) url.Values {
	query := url.Values{}
	for _, status := range statuses {
		if status = strings.TrimSpace(status); status != "" {
			query.Add("status", status)
		}
	}
	return query
}

func setIf(values url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		values.Set(key, value)
	}
}
