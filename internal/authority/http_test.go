package authority_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"fieldsync/internal/authority"
)

type recordedRequest struct {
	method   string
	path     string
	auth     string
	encoding string
	body     map[string]any
}

func newGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "zstd" {
			dec, err := zstd.NewReader(r.Body)
			if err != nil {
				t.Errorf("zstd reader: %v", err)
				return
			}
			defer dec.Close()
			reader = dec
		}
		var body map[string]any
		raw, _ := io.ReadAll(reader)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		mu.Lock()
		requests = append(requests, recordedRequest{
			method:   r.Method,
			path:     r.URL.Path,
			auth:     r.Header.Get("Authorization"),
			encoding: r.Header.Get("Content-Encoding"),
			body:     body,
		})
		mu.Unlock()
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClientRoundTrips(t *testing.T) {
	stamp := "2026-09-02T08:00:00Z"
	srv, requests := newGateway(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/animals/a1":
			writeJSON(w, http.StatusOK, map[string]any{"id": "a1", "earTag": "X001", "updated_at": stamp})
		case r.Method == http.MethodPost && r.URL.Path == "/rest/animals":
			body["id"] = "a2"
			body["updated_at"] = stamp
			writeJSON(w, http.StatusCreated, body)
		case r.Method == http.MethodPatch && r.URL.Path == "/rest/animals/a1":
			body["id"] = "a1"
			body["updated_at"] = stamp
			writeJSON(w, http.StatusOK, body)
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "no route"})
		}
	})

	client, err := authority.NewHTTPClient(srv.URL, "secret", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	ctx := context.Background()

	rec, err := client.ReadRecord(ctx, "animals", "a1")
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if rec.Data["earTag"] != "X001" || rec.UpdatedAt.Format(time.RFC3339) != stamp {
		t.Fatalf("unexpected record %#v", rec)
	}

	big := strings.Repeat("n", 2048)
	created, err := client.InsertRecord(ctx, "animals", map[string]any{"earTag": "X002", "notes": big})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if created.Data["id"] != "a2" {
		t.Fatalf("unexpected insert response %#v", created.Data)
	}

	if _, err := client.UpdateRecord(ctx, "animals", "a1", map[string]any{"weight": 5}); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	got := *requests
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	for _, req := range got {
		if req.auth != "Bearer secret" {
			t.Fatalf("missing bearer token on %s %s", req.method, req.path)
		}
	}
	if got[1].encoding != "zstd" || got[1].body["notes"] != big {
		t.Fatalf("large insert should be zstd compressed and intact: %#v", got[1].encoding)
	}
	if got[2].encoding != "" {
		t.Fatalf("small update should not be compressed")
	}
}

func TestHTTPClientStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   authority.Code
	}{
		{http.StatusNotFound, authority.CodeNotFound},
		{http.StatusConflict, authority.CodeConstraint},
		{http.StatusForbidden, authority.CodePermission},
		{http.StatusUnprocessableEntity, authority.CodeValidation},
		{http.StatusServiceUnavailable, authority.CodeNetwork},
		{http.StatusTooManyRequests, authority.CodeNetwork},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
				writeJSON(w, tc.status, map[string]any{"message": "nope"})
			})
			client, err := authority.NewHTTPClient(srv.URL, "", time.Second)
			if err != nil {
				t.Fatalf("NewHTTPClient: %v", err)
			}
			_, err = client.ReadRecord(context.Background(), "animals", "a1")
			if authority.CodeOf(err) != tc.want {
				t.Fatalf("code = %q, want %q (err %v)", authority.CodeOf(err), tc.want, err)
			}
			if !strings.Contains(err.Error(), "nope") {
				t.Fatalf("expected server message in error: %v", err)
			}
		})
	}
}

func TestHTTPClientTransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := authority.NewHTTPClient(url, "", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	_, err = client.ReadRecord(context.Background(), "animals", "a1")
	if authority.CodeOf(err) != authority.CodeNetwork || !authority.Retryable(err) {
		t.Fatalf("expected retryable network error, got %v", err)
	}
}

func TestHTTPClientCapabilitiesAndHealth(t *testing.T) {
	srv, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		switch r.URL.Path {
		case "/rest/_capabilities":
			writeJSON(w, http.StatusOK, map[string]any{"telemetry": true})
		case "/healthz":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client, err := authority.NewHTTPClient(srv.URL, "", time.Second, authority.WithHealthPath("healthz"))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	caps, err := client.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if !caps.Telemetry || caps.ConflictMirror {
		t.Fatalf("unexpected capabilities %#v", caps)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestHTTPClientCapabilitiesMissingEndpoint(t *testing.T) {
	srv, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusNotFound)
	})
	client, _ := authority.NewHTTPClient(srv.URL, "", time.Second)
	caps, err := client.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps.Telemetry || caps.ConflictMirror {
		t.Fatalf("expected no capabilities, got %#v", caps)
	}
}

func TestHTTPClientRateLimitHonorsContext(t *testing.T) {
	srv, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "a1", "updated_at": "2026-09-02T08:00:00Z"})
	})
	client, _ := authority.NewHTTPClient(srv.URL, "", time.Second, authority.WithRateLimit(0.001, 1))
	ctx := context.Background()
	if _, err := client.ReadRecord(ctx, "animals", "a1"); err != nil {
		t.Fatalf("first request should use the burst: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := client.ReadRecord(short, "animals", "a1"); authority.CodeOf(err) != authority.CodeNetwork {
		t.Fatalf("expected limiter wait to fail as network error, got %v", err)
	}
}

func TestNewHTTPClientRequiresURL(t *testing.T) {
	if _, err := authority.NewHTTPClient("", "", time.Second); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
