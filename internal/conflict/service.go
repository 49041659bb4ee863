package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/authority"
	"fieldsync/internal/logging"
	"fieldsync/internal/services"
	"fieldsync/internal/store"
)

// Service detects, records, resolves, and applies conflicts.
type Service struct {
	store     *store.Store
	authority authority.Client
	mirror    bool
	deviceID  string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMirror enables replication of conflicts to the authority's
// sync_conflicts table. Callers enable it after a capability probe.
func WithMirror(enabled bool) Option {
	return func(s *Service) { s.mirror = enabled }
}

// WithDeviceID stamps recorded conflicts with the originating device.
func WithDeviceID(id string) Option {
	return func(s *Service) { s.deviceID = strings.TrimSpace(id) }
}

// New returns a Service persisting to st and reading from client.
func New(st *store.Store, client authority.Client, opts ...Option) *Service {
	s := &Service{
		store:     st,
		authority: client,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "conflict")
	return s
}

// DetectConflict reads the authority copy of table/recordID and compares it
// with the client's base timestamp. A conflict exists only when the authority
// copy is strictly newer and differs in at least one field the client wrote.
// Equal timestamps are never a conflict.
func (s *Service) DetectConflict(ctx context.Context, table, recordID string, clientBase time.Time, clientData map[string]any) (Detection, error) {
	rec, err := s.authority.ReadRecord(ctx, table, recordID)
	if err != nil {
		return Detection{}, fmt.Errorf("detect conflict %s/%s: %w", table, recordID, err)
	}
	detection := Detection{
		ServerData:      rec.Data,
		ServerUpdatedAt: rec.UpdatedAt,
	}
	if !rec.UpdatedAt.After(clientBase) {
		return detection, nil
	}
	detection.HasConflict = fieldsDiffer(clientData, rec.Data)
	return detection, nil
}

// RecordConflict persists a pending conflict and returns its id. The
// authority mirror is written best-effort; a failed mirror write is retried
// by SyncMirrors.
func (s *Service) RecordConflict(ctx context.Context, tenantID, table, recordID string, clientData, serverData map[string]any) (string, error) {
	if strings.TrimSpace(table) == "" || strings.TrimSpace(recordID) == "" {
		return "", services.Wrap(services.ErrValidation, "conflict", "record", "table and record id required", nil)
	}
	serverUpdatedAt, _ := authority.UpdatedAtFrom(serverData)
	c := &Conflict{
		ID:              uuid.NewString(),
		TenantID:        strings.TrimSpace(tenantID),
		DeviceID:        s.deviceID,
		TableName:       table,
		RecordID:        recordID,
		ClientData:      maps.Clone(clientData),
		ServerData:      maps.Clone(serverData),
		ServerUpdatedAt: serverUpdatedAt,
		Resolution:      Pending,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.put(ctx, c); err != nil {
		return "", err
	}
	s.logger.Info("conflict recorded",
		logging.String(logging.FieldEventType, "conflict_recorded"),
		logging.ConflictID(c.ID),
		logging.Table(table),
		logging.RecordID(recordID),
		logging.TenantID(c.TenantID),
	)
	s.pushMirror(ctx, c)
	return c.ID, nil
}

// ResolveConflict records strategy for a pending conflict. resolvedData is
// required for Merged and rejected otherwise. Resolving an already resolved
// conflict with the same decision is a no-op; any other change is refused.
func (s *Service) ResolveConflict(ctx context.Context, id string, strategy Resolution, resolvedData map[string]any) (*Conflict, error) {
	if _, ok := ParseStrategy(string(strategy)); !ok {
		return nil, services.Wrap(services.ErrValidation, "conflict", "resolve", fmt.Sprintf("unknown strategy %q", strategy), nil)
	}
	switch {
	case strategy == Merged && len(resolvedData) == 0:
		return nil, services.Wrap(services.ErrValidation, "conflict", "resolve", "merged resolution requires resolved data", nil)
	case strategy != Merged && len(resolvedData) > 0:
		return nil, services.Wrap(services.ErrValidation, "conflict", "resolve", "resolved data only applies to merged resolutions", nil)
	}

	var changed bool
	c, err := s.update(ctx, id, func(c *Conflict) error {
		if !c.IsPending() {
			if c.Resolution == strategy && sameData(c.ResolvedData, resolvedData) {
				return nil
			}
			return services.Wrap(services.ErrConflict, "conflict", "resolve",
				fmt.Sprintf("conflict %s already resolved as %s", id, c.Resolution), nil)
		}
		now := s.now().UTC()
		c.Resolution = strategy
		c.ResolvedData = maps.Clone(resolvedData)
		c.ResolvedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("conflict resolved",
			logging.String(logging.FieldEventType, "conflict_resolved"),
			logging.ConflictID(c.ID),
			logging.String("resolution", string(c.Resolution)),
		)
		s.pushMirror(ctx, c)
	}
	return c, nil
}

// ApplyResolution performs the deferred authority write for a resolved
// conflict exactly once. ClientWins writes the client snapshot, Merged writes
// the resolved data, and ServerWins writes nothing.
func (s *Service) ApplyResolution(ctx context.Context, id string) (*Conflict, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, services.Wrap(services.ErrNotFound, "conflict", "apply", "conflict "+id, nil)
	}
	if c.IsPending() {
		return nil, services.Wrap(services.ErrValidation, "conflict", "apply", "conflict "+id+" is not resolved", nil)
	}
	if c.Applied() {
		return c, nil
	}

	var payload map[string]any
	switch c.Resolution {
	case ClientWins:
		payload = c.ClientData
	case Merged:
		payload = c.ResolvedData
	case ServerWins:
	}
	if payload != nil {
		if _, err := s.authority.UpdateRecord(ctx, c.TableName, c.RecordID, writableFields(payload)); err != nil {
			return nil, fmt.Errorf("apply resolution %s: %w", id, err)
		}
	}

	return s.update(ctx, id, func(c *Conflict) error {
		if c.AppliedAt == nil {
			now := s.now().UTC()
			c.AppliedAt = &now
		}
		return nil
	})
}

// Get returns the conflict with id, or nil when absent.
func (s *Service) Get(ctx context.Context, id string) (*Conflict, error) {
	rec, err := s.store.Get(ctx, store.Conflicts, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeConflict(rec)
}

// List returns conflicts for tenantID oldest first. An empty tenantID lists
// every tenant.
func (s *Service) List(ctx context.Context, tenantID string, onlyPending bool) ([]*Conflict, error) {
	var statuses []string
	if onlyPending {
		statuses = []string{string(Pending)}
	}
	records, err := s.store.ListByStatus(ctx, store.Conflicts, statuses...)
	if err != nil {
		return nil, err
	}
	tenantID = strings.TrimSpace(tenantID)
	out := make([]*Conflict, 0, len(records))
	for _, rec := range records {
		c, err := decodeConflict(rec)
		if err != nil {
			return nil, err
		}
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// SyncMirrors pushes conflicts whose mirrored state lags the local state and
// returns how many were written.
func (s *Service) SyncMirrors(ctx context.Context) (int, error) {
	if !s.mirror {
		return 0, nil
	}
	all, err := s.List(ctx, "", false)
	if err != nil {
		return 0, err
	}
	pushed := 0
	for _, c := range all {
		if c.MirroredResolution == c.Resolution {
			continue
		}
		if s.pushMirror(ctx, c) {
			pushed++
		}
	}
	return pushed, nil
}

// pushMirror writes c to the authority mirror and records the mirrored
// resolution locally. Failures are logged and reported as false.
func (s *Service) pushMirror(ctx context.Context, c *Conflict) bool {
	if !s.mirror {
		return false
	}
	row := mirrorRow(c)
	var err error
	if c.MirroredResolution == "" {
		_, err = s.authority.InsertRecord(ctx, authority.ConflictTable, row)
		if authority.CodeOf(err) == authority.CodeConstraint {
			// A previous insert reached the authority before the local marker was saved.
			_, err = s.authority.UpdateRecord(ctx, authority.ConflictTable, c.ID, row)
		}
	} else {
		_, err = s.authority.UpdateRecord(ctx, authority.ConflictTable, c.ID, row)
	}
	if err != nil {
		logging.WarnWithContext(s.logger, "conflict mirror write failed", "conflict_mirror_failed",
			logging.ConflictID(c.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "other devices will not see this conflict until the next sync"),
			logging.String(logging.FieldErrorHint, "mirror is retried on every sync pass"),
		)
		return false
	}
	resolution := c.Resolution
	if _, err := s.update(ctx, c.ID, func(stored *Conflict) error {
		stored.MirroredResolution = resolution
		return nil
	}); err != nil {
		s.logger.Warn("record mirror state failed", logging.ConflictID(c.ID), logging.Error(err))
		return false
	}
	c.MirroredResolution = resolution
	return true
}

func mirrorRow(c *Conflict) map[string]any {
	row := map[string]any{
		"id":          c.ID,
		"tenant_id":   c.TenantID,
		"device_id":   c.DeviceID,
		"table_name":  c.TableName,
		"record_id":   c.RecordID,
		"client_data": c.ClientData,
		"server_data": c.ServerData,
		"resolution":  string(c.Resolution),
		"created_at":  c.CreatedAt.Format(time.RFC3339Nano),
	}
	if c.ResolvedData != nil {
		row["resolved_data"] = c.ResolvedData
	}
	if c.ResolvedAt != nil {
		row["resolved_at"] = c.ResolvedAt.Format(time.RFC3339Nano)
	}
	return row
}

func (s *Service) put(ctx context.Context, c *Conflict) error {
	body, err := json.Marshal(c)
	if err != nil {
		return services.Wrap(services.ErrValidation, "conflict", "encode", c.ID, err)
	}
	return s.store.Put(ctx, store.Conflicts, &store.Record{
		ID:        c.ID,
		Status:    string(c.Resolution),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.CreatedAt,
		Body:      body,
	})
}

func (s *Service) update(ctx context.Context, id string, fn func(*Conflict) error) (*Conflict, error) {
	var result *Conflict
	_, err := s.store.Update(ctx, store.Conflicts, id, func(rec *store.Record) error {
		c, err := decodeConflict(rec)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		body, err := json.Marshal(c)
		if err != nil {
			return services.Wrap(services.ErrValidation, "conflict", "encode", id, err)
		}
		rec.Status = string(c.Resolution)
		rec.Body = body
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func decodeConflict(rec *store.Record) (*Conflict, error) {
	var c Conflict
	if err := json.Unmarshal(rec.Body, &c); err != nil {
		return nil, services.Wrap(services.ErrFatal, "conflict", "decode", rec.ID, err)
	}
	c.ID = rec.ID
	c.Resolution = Resolution(rec.Status)
	c.CreatedAt = rec.CreatedAt
	return &c, nil
}

// serverManaged lists fields the authority owns; they never count as a
// difference and are never written back.
var serverManaged = map[string]bool{
	"id":         true,
	"updated_at": true,
	"created_at": true,
}

// fieldsDiffer reports whether any client-written field differs from the
// server snapshot. Values are compared by their JSON encoding so numbers
// decoded from the wire compare equal to the ints a client wrote.
func fieldsDiffer(clientData, serverData map[string]any) bool {
	keys := make([]string, 0, len(clientData))
	for k := range clientData {
		if !serverManaged[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		serverValue, ok := serverData[k]
		if !ok {
			if clientData[k] == nil {
				continue
			}
			return true
		}
		if !sameValue(clientData[k], serverValue) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(left) == string(right)
}

func sameData(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return sameValue(a, b)
}

func writableFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if !serverManaged[k] {
			out[k] = v
		}
	}
	return out
}
