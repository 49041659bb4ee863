package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldsync/internal/api"
	"fieldsync/internal/audio"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
)

// maxUploadBytes bounds raw audio uploads before compression.
const maxUploadBytes = 64 << 20

// Handler returns the local API router.
func (d *Daemon) Handler() http.Handler {
	return d.routes()
}

func (d *Daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(strings.TrimSpace(d.cfg.Paths.APIToken)))

		r.Get("/status", d.handleStatus)

		r.Post("/mutations", d.handleEnqueue)
		r.Get("/queue", d.handleQueue)
		r.Post("/queue/retry", d.handleQueueRetry)
		r.Post("/queue/clear-completed", d.handleClearCompleted)

		r.Post("/sync", d.handleSync)

		r.Post("/audio", d.handleAudioUpload)
		r.Get("/audio", d.handleAudioList)
		r.Get("/audio/stats", d.handleAudioStats)
		r.Post("/audio/cleanup", d.handleAudioCleanup)
		r.Post("/audio/{id}/retry", d.handleAudioRetry)

		r.Get("/conflicts", d.handleConflicts)
		r.Post("/conflicts/{id}/resolve", d.handleResolve)
	})
	return r
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := d.Status(r.Context())
	sessions := make([]api.Session, 0, len(status.Sessions))
	for _, s := range status.Sessions {
		sessions = append(sessions, api.FromSession(s))
	}
	d.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		DeviceID:      status.DeviceID,
		TenantID:      status.TenantID,
		QueueDBPath:   status.QueueDBPath,
		LockFilePath:  status.LockFilePath,
		Telemetry:     status.Telemetry,
		NetlinkEvents: status.NetlinkEvents,
		Sync:          api.FromStatusSummary(status.Workflow),
		Audio:         api.FromAudioStats(status.Audio),
		Sessions:      sessions,
	})
}

func (d *Daemon) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if !d.decode(w, r, &req) {
		return
	}
	m, err := req.Mutation()
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	item, err := d.Enqueue(r.Context(), m, strings.TrimSpace(req.OptimisticID))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusCreated, api.EnqueueResponse{Item: api.FromQueueItem(item)})
}

func (d *Daemon) handleQueue(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := queue.ParseStatus(trimmed)
		if !ok {
			d.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed), "validation")
			return
		}
		statuses = append(statuses, status)
	}
	items, stats, err := d.ListQueue(r.Context(), statuses...)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.QueueListResponse{
		Items: api.FromQueueItems(items),
		Stats: api.FromQueueStats(stats),
	})
}

func (d *Daemon) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	var req api.RetryRequest
	if r.ContentLength != 0 && !d.decode(w, r, &req) {
		return
	}
	count, err := d.RetryFailed(r.Context(), req.IDs...)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (d *Daemon) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	count, err := d.ClearCompleted(r.Context())
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (d *Daemon) handleSync(w http.ResponseWriter, _ *http.Request) {
	d.writeJSON(w, http.StatusAccepted, api.SyncResponse{Triggered: d.TriggerSync()})
}

func (d *Daemon) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			d.writeError(w, http.StatusRequestEntityTooLarge, "audio upload too large", "capacity")
			return
		}
		d.writeError(w, http.StatusBadRequest, "read audio upload: "+err.Error(), "validation")
		return
	}
	if len(blob) == 0 {
		d.writeError(w, http.StatusBadRequest, "audio upload is empty", "validation")
		return
	}
	query := r.URL.Query()
	meta := audio.Metadata{
		Source:        strings.TrimSpace(query.Get("source")),
		Form:          strings.TrimSpace(query.Get("form")),
		TenantID:      strings.TrimSpace(query.Get("tenant")),
		CorrelationID: strings.TrimSpace(query.Get("correlation_id")),
		ContentType:   uploadContentType(r.Header.Get("Content-Type")),
	}
	if meta.Source == "" {
		meta.Source = "api"
	}
	item, err := d.AddAudio(r.Context(), blob, meta)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusCreated, api.FromAudioItem(item))
}

func (d *Daemon) handleAudioList(w http.ResponseWriter, r *http.Request) {
	var statuses []audio.Status
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			statuses = append(statuses, audio.Status(trimmed))
		}
	}
	items, err := d.ListAudio(r.Context(), statuses...)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	out := make([]api.AudioCapture, 0, len(items))
	for _, item := range items {
		out = append(out, api.FromAudioItem(item))
	}
	d.writeJSON(w, http.StatusOK, api.AudioListResponse{Items: out})
}

func (d *Daemon) handleAudioStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.AudioStats(r.Context())
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.FromAudioStats(stats))
}

func (d *Daemon) handleAudioCleanup(w http.ResponseWriter, r *http.Request) {
	count, err := d.CleanupAudio(r.Context())
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (d *Daemon) handleAudioRetry(w http.ResponseWriter, r *http.Request) {
	item, err := d.RetryAudio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.FromAudioItem(item))
}

func (d *Daemon) handleConflicts(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all")
	onlyPending := !(all == "1" || strings.EqualFold(all, "true"))
	conflicts, err := d.ListConflicts(r.Context(), onlyPending)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	out := make([]api.Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, api.FromConflict(c))
	}
	d.writeJSON(w, http.StatusOK, api.ConflictListResponse{Items: out})
}

func (d *Daemon) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req api.ResolveRequest
	if !d.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	m, err := req.Mutation(id)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	resolve, ok := m.(queue.ResolveConflict)
	if !ok {
		d.writeError(w, http.StatusInternalServerError, "unexpected mutation variant", "")
		return
	}
	item, err := d.ResolveConflict(r.Context(), id, resolve)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	d.writeJSON(w, http.StatusAccepted, api.EnqueueResponse{Item: api.FromQueueItem(item)})
}

func (d *Daemon) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "validation")
		return false
	}
	return true
}

func (d *Daemon) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		d.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (d *Daemon) writeError(w http.ResponseWriter, status int, message, kind string) {
	d.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (d *Daemon) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrCapacity):
		status = http.StatusRequestEntityTooLarge
	}
	if status == http.StatusInternalServerError {
		d.logger.Error("api request failed", logging.Error(err), logging.String("error_kind", services.Kind(err)))
	}
	d.writeError(w, status, err.Error(), services.Kind(err))
}

func uploadContentType(header string) string {
	if header == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if mediaType == "application/octet-stream" {
		return ""
	}
	return mediaType
}
