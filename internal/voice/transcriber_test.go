package voice_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/internal/services"
	"fieldsync/internal/voice"
)

func TestHTTPTranscriber(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       string
		wantMarker error
	}{
		{name: "text field", status: http.StatusOK, body: `{"text":" heifer 42 moved to north paddock "}`, want: "heifer 42 moved to north paddock"},
		{name: "transcript field", status: http.StatusOK, body: `{"transcript":"fence down"}`, want: "fence down"},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `{"error":"busy"}`, wantMarker: services.ErrTransient},
		{name: "rate limited", status: http.StatusTooManyRequests, wantMarker: services.ErrTransient},
		{name: "rejected", status: http.StatusUnprocessableEntity, body: `{"error":"unsupported codec"}`, wantMarker: services.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotType, gotAuth string
			var gotBody []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotType = r.Header.Get("Content-Type")
				gotAuth = r.Header.Get("Authorization")
				gotBody, _ = io.ReadAll(r.Body)
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			tr, err := voice.NewHTTPTranscriber(srv.URL, "secret", time.Second)
			if err != nil {
				t.Fatalf("NewHTTPTranscriber: %v", err)
			}
			text, err := tr.Transcribe(context.Background(), []byte("OggS"), "audio/ogg")
			if gotType != "audio/ogg" || gotAuth != "Bearer secret" || string(gotBody) != "OggS" {
				t.Fatalf("request type=%q auth=%q body=%q", gotType, gotAuth, gotBody)
			}
			if tc.wantMarker != nil {
				if !errors.Is(err, tc.wantMarker) {
					t.Fatalf("error %v, want %v", err, tc.wantMarker)
				}
				return
			}
			if err != nil || text != tc.want {
				t.Fatalf("Transcribe = %q, %v", text, err)
			}
		})
	}
}

func TestHTTPTranscriberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := voice.NewHTTPTranscriber(url, "", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPTranscriber: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), []byte("x"), ""); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestNewHTTPTranscriberRequiresURL(t *testing.T) {
	if _, err := voice.NewHTTPTranscriber(" ", "", 0); err == nil {
		t.Fatal("expected error for empty url")
	}
}
