package apply

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"fieldsync/internal/authority"
	"fieldsync/internal/conflict"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/services"
)

// ConflictAPI is the part of the conflict service appliers use.
type ConflictAPI interface {
	DetectConflict(ctx context.Context, table, recordID string, clientBase time.Time, clientData map[string]any) (conflict.Detection, error)
	RecordConflict(ctx context.Context, tenantID, table, recordID string, clientData, serverData map[string]any) (string, error)
	ResolveConflict(ctx context.Context, id string, strategy conflict.Resolution, resolvedData map[string]any) (*conflict.Conflict, error)
	ApplyResolution(ctx context.Context, id string) (*conflict.Conflict, error)
}

// Result describes a successfully applied item.
type Result struct {
	Summary  string
	Table    string
	RecordID string
	// ConflictID is set when the mutation touched a conflict.
	ConflictID string
	// Held reports that the write was suspended behind a pending conflict.
	Held bool
}

// Dispatcher routes each mutation variant to its applier.
type Dispatcher struct {
	authority authority.Client
	conflicts ConflictAPI
	tenantID  string
	autoMerge bool
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTenant sets the tenant used when a mutation does not carry one.
func WithTenant(id string) Option {
	return func(d *Dispatcher) { d.tenantID = strings.TrimSpace(id) }
}

// WithAutoMerge applies the merge suggestion immediately instead of holding
// conflicts for a human decision.
func WithAutoMerge(enabled bool) Option {
	return func(d *Dispatcher) { d.autoMerge = enabled }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New returns a Dispatcher writing to client.
func New(client authority.Client, conflicts ConflictAPI, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		authority: client,
		conflicts: conflicts,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "apply")
	return d
}

// Apply performs the authority writes for item. Errors keep the taxonomy
// markers of their cause so the caller can tell fatal from retryable.
func (d *Dispatcher) Apply(ctx context.Context, item *queue.Item) (Result, error) {
	if item == nil {
		return Result{}, services.Wrap(services.ErrValidation, "apply", "decode", "item is nil", nil)
	}
	m, err := item.Mutation()
	if err != nil {
		return Result{}, err
	}
	switch v := m.(type) {
	case queue.CreateRecord:
		return d.create(ctx, v)
	case queue.UpdateRecord:
		return d.update(ctx, item, v)
	case queue.ResolveConflict:
		return d.resolve(ctx, v)
	default:
		return Result{}, services.Wrap(services.ErrValidation, "apply", "dispatch", fmt.Sprintf("no applier for %T", m), nil)
	}
}

func (d *Dispatcher) create(ctx context.Context, m queue.CreateRecord) (Result, error) {
	if strings.TrimSpace(m.Table) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "apply", "create", "table required", nil)
	}
	data := maps.Clone(m.Data)
	if data == nil {
		data = map[string]any{}
	}
	if tenant := d.tenant(m.TenantID); tenant != "" {
		if _, ok := data["tenant_id"]; !ok {
			data["tenant_id"] = tenant
		}
	}

	rec, err := d.authority.InsertRecord(ctx, m.Table, data)
	if err != nil {
		// A client-chosen id that already exists means an earlier attempt
		// landed before the item was marked completed.
		id, _ := data["id"].(string)
		if id == "" || authority.CodeOf(err) != authority.CodeConstraint {
			return Result{}, err
		}
		if _, readErr := d.authority.ReadRecord(ctx, m.Table, id); readErr != nil {
			return Result{}, err
		}
		d.logger.Info("create already applied",
			logging.String(logging.FieldEventType, "create_replayed"),
			logging.Table(m.Table),
			logging.RecordID(id),
		)
		return Result{Summary: m.Summary(), Table: m.Table, RecordID: id}, nil
	}
	recordID, _ := rec.Data["id"].(string)
	return Result{Summary: m.Summary(), Table: m.Table, RecordID: recordID}, nil
}

func (d *Dispatcher) update(ctx context.Context, item *queue.Item, m queue.UpdateRecord) (Result, error) {
	if strings.TrimSpace(m.Table) == "" || strings.TrimSpace(m.RecordID) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "apply", "update", "table and record id required", nil)
	}
	detection, err := d.conflicts.DetectConflict(ctx, m.Table, m.RecordID, m.BaseUpdatedAt, m.Data)
	if err != nil {
		return Result{}, err
	}
	if !detection.HasConflict {
		if _, err := d.authority.UpdateRecord(ctx, m.Table, m.RecordID, m.Data); err != nil {
			return Result{}, err
		}
		return Result{Summary: m.Summary(), Table: m.Table, RecordID: m.RecordID}, nil
	}

	conflictID, err := d.conflicts.RecordConflict(ctx, d.tenant(m.TenantID), m.Table, m.RecordID, m.Data, detection.ServerData)
	if err != nil {
		return Result{}, err
	}
	label := queue.RecordLabel(m.Data)
	if label == "" {
		label = m.RecordID
	}

	if !d.autoMerge {
		return Result{
			Summary:    fmt.Sprintf("Update to %s held for conflict review", label),
			Table:      m.Table,
			RecordID:   m.RecordID,
			ConflictID: conflictID,
			Held:       true,
		}, nil
	}

	merged := conflict.MergeRecords(m.Data, detection.ServerData, item.CreatedAt, detection.ServerUpdatedAt)
	if _, err := d.conflicts.ResolveConflict(ctx, conflictID, conflict.Merged, merged); err != nil {
		return Result{}, err
	}
	if _, err := d.conflicts.ApplyResolution(ctx, conflictID); err != nil {
		return Result{}, err
	}
	return Result{
		Summary:    fmt.Sprintf("Merged update to %s", label),
		Table:      m.Table,
		RecordID:   m.RecordID,
		ConflictID: conflictID,
	}, nil
}

func (d *Dispatcher) resolve(ctx context.Context, m queue.ResolveConflict) (Result, error) {
	strategy, ok := conflict.ParseStrategy(m.Strategy)
	if !ok {
		return Result{}, services.Wrap(services.ErrValidation, "apply", "resolve", fmt.Sprintf("unknown strategy %q", m.Strategy), nil)
	}
	if _, err := d.conflicts.ResolveConflict(ctx, m.ConflictID, strategy, m.ResolvedData); err != nil {
		return Result{}, err
	}
	c, err := d.conflicts.ApplyResolution(ctx, m.ConflictID)
	if err != nil {
		return Result{}, err
	}
	return Result{Summary: m.Summary(), Table: c.TableName, RecordID: c.RecordID, ConflictID: c.ID}, nil
}

func (d *Dispatcher) tenant(explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return d.tenantID
}
