package voice

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

	"fieldsync/internal/services"
)

const maxTranscriptBytes = 1 << 20

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// HTTPTranscriber posts raw audio to a speech-to-text endpoint and expects a
// JSON reply carrying "text" or "transcript".
type HTTPTranscriber struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTranscriber validates endpoint and builds a transcriber.
func NewHTTPTranscriber(endpoint, apiKey string, timeout time.Duration) (*HTTPTranscriber, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("transcription url required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("transcription url: %w", err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPTranscriber{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type transcriptBody struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

// Transcribe implements Transcriber. Network failures, timeouts and 5xx or
// 429 replies are transient; other rejections are validation errors.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if contentType = strings.TrimSpace(contentType); contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "voice", "transcribe", "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "voice", "transcribe", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "voice", "transcribe", "read response", err)
	}

	var parsed transcriptBody
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		if detail := strings.TrimSpace(parsed.Error); detail != "" {
			message += ": " + detail
		}
		marker := services.ErrValidation
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
			marker = services.ErrTransient
		}
		return "", services.Wrap(marker, "voice", "transcribe", message, nil)
	}

	text := parsed.Text
	if text == "" {
		text = parsed.Transcript
	}
	return strings.TrimSpace(text), nil
}
