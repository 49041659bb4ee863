package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

// compressionThreshold is the minimum request body size worth compressing.
const compressionThreshold = 1024

// HTTPClient speaks to the authority's REST gateway:
//
//	GET   /rest/{table}/{id}
//	POST  /rest/{table}
//	PATCH /rest/{table}/{id}
//	GET   /rest/_capabilities
type HTTPClient struct {
	baseURL    string
	apiKey     string
	healthPath string
	httpClient *http.Client
	limiter    *rate.Limiter
	encoder    *zstd.Encoder
}

var (
	_ Client           = (*HTTPClient)(nil)
	_ CapabilityProber = (*HTTPClient)(nil)
	_ HealthChecker    = (*HTTPClient)(nil)
)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHealthPath overrides the health endpoint.
func WithHealthPath(path string) HTTPOption {
	return func(c *HTTPClient) {
		if path = strings.TrimSpace(path); path != "" {
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			c.healthPath = path
		}
	}
}

// NewHTTPClient creates a REST authority client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, opts ...HTTPOption) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("authority base url required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("authority base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	client := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		healthPath: "/health",
		httpClient: &http.Client{Timeout: timeout},
		encoder:    encoder,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ReadRecord implements Client.
func (c *HTTPClient) ReadRecord(ctx context.Context, table, id string) (*Record, error) {
	data, err := c.do(ctx, http.MethodGet, table, id, nil)
	if err != nil {
		return nil, err
	}
	return recordFrom(table, id, data)
}

// InsertRecord implements Client.
func (c *HTTPClient) InsertRecord(ctx context.Context, table string, data map[string]any) (*Record, error) {
	out, err := c.do(ctx, http.MethodPost, table, "", data)
	if err != nil {
		return nil, err
	}
	id, _ := out["id"].(string)
	return recordFrom(table, id, out)
}

// UpdateRecord implements Client.
func (c *HTTPClient) UpdateRecord(ctx context.Context, table, id string, data map[string]any) (*Record, error) {
	out, err := c.do(ctx, http.MethodPatch, table, id, data)
	if err != nil {
		return nil, err
	}
	return recordFrom(table, id, out)
}

// Capabilities implements CapabilityProber. A gateway without the endpoint
// advertises no optional features.
func (c *HTTPClient) Capabilities(ctx context.Context) (Capabilities, error) {
	resp, err := c.send(ctx, http.MethodGet, c.baseURL+"/rest/_capabilities", nil, "", "")
	if err != nil {
		return Capabilities{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Capabilities{}, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return Capabilities{}, statusError(resp.StatusCode, "", "", body)
	}
	var caps Capabilities
	if err := json.Unmarshal(body, &caps); err != nil {
		return Capabilities{}, newError(CodeValidation, "", "", "decode capabilities", err)
	}
	return caps, nil
}

// Health implements HealthChecker.
func (c *HTTPClient) Health(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, c.baseURL+c.healthPath, nil, "", "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return newError(CodeNetwork, "", "", fmt.Sprintf("health returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, table, id string, payload map[string]any) (map[string]any, error) {
	if strings.TrimSpace(table) == "" {
		return nil, newError(CodeValidation, table, id, "table required", nil)
	}
	endpoint := c.baseURL + "/rest/" + url.PathEscape(table)
	if id != "" {
		endpoint += "/" + url.PathEscape(id)
	}

	var (
		body     []byte
		encoding string
	)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, newError(CodeValidation, table, id, "encode request", err)
		}
		body = raw
		if len(raw) >= compressionThreshold {
			body = c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
			encoding = "zstd"
		}
	}

	resp, err := c.send(ctx, method, endpoint, body, "application/json", encoding)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			authErr.Table, authErr.RecordID = table, id
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(CodeNetwork, table, id, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, table, id, respBody)
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, newError(CodeValidation, table, id, "decode response", err)
	}
	return out, nil
}

func (c *HTTPClient) send(ctx context.Context, method, endpoint string, body []byte, contentType, encoding string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newError(CodeNetwork, "", "", "rate limiter", err)
		}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, newError(CodeValidation, "", "", "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
		if encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(CodeNetwork, "", "", fmt.Sprintf("%s %s (latency=%v)", method, endpoint, time.Since(requestStart).Round(time.Millisecond)), err)
	}
	return resp, nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func statusError(status int, table, id string, body []byte) *Error {
	message := fmt.Sprintf("status %d", status)
	var parsed errorBody
	if json.Unmarshal(body, &parsed) == nil {
		if detail := strings.TrimSpace(parsed.Message + " " + parsed.Error); detail != "" {
			message += ": " + detail
		}
	}
	var code Code
	switch {
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusConflict:
		code = CodeConstraint
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = CodePermission
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		code = CodeNetwork
	default:
		code = CodeValidation
	}
	return newError(code, table, id, message, nil)
}
