package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process authority. It stamps updated_at on every write
// and supports scripted failures so sync paths can be exercised offline.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	tables    map[string]map[string]map[string]any
	failures  []error
	reachable bool
	caps      Capabilities
	writes    []Write
	lastStamp time.Time
}

// Write records one successful mutation against the memory authority.
type Write struct {
	Op    string
	Table string
	ID    string
	Data  map[string]any
}

var (
	_ Client           = (*Memory)(nil)
	_ CapabilityProber = (*Memory)(nil)
	_ HealthChecker    = (*Memory)(nil)
)

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the timestamp source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMemoryCapabilities overrides the advertised capabilities.
func WithMemoryCapabilities(caps Capabilities) MemoryOption {
	return func(m *Memory) { m.caps = caps }
}

// NewMemory returns an empty, reachable authority advertising every capability.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:       time.Now,
		tables:    make(map[string]map[string]map[string]any),
		reachable: true,
		caps:      Capabilities{Telemetry: true, ConflictMirror: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed stores a row directly with the given updated_at.
func (m *Memory) Seed(table, id string, data map[string]any, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := cloneData(data)
	row["id"] = id
	row["updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
	m.table(table)[id] = row
	if updatedAt.After(m.lastStamp) {
		m.lastStamp = updatedAt.UTC()
	}
}

// FailNext makes the next len(errs) calls fail with the given errors in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// SetReachable toggles whether calls fail with a network error.
func (m *Memory) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = reachable
}

// Writes returns the successful writes in order.
func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// Rows returns a copy of every row in table, sorted by id.
func (m *Memory) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]map[string]any, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		rows = append(rows, cloneData(row))
	}
	sort.Slice(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i]["id"]) < fmt.Sprint(rows[j]["id"])
	})
	return rows
}

// ReadRecord implements Client.
func (m *Memory) ReadRecord(_ context.Context, table, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheck(table, id); err != nil {
		return nil, err
	}
	row, ok := m.tables[table][id]
	if !ok {
		return nil, newError(CodeNotFound, table, id, "record not found", nil)
	}
	return recordFrom(table, id, cloneData(row))
}

// InsertRecord implements Client. A missing id is generated.
func (m *Memory) InsertRecord(_ context.Context, table string, data map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := data["id"].(string)
	if err := m.precheck(table, id); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	rows := m.table(table)
	if _, exists := rows[id]; exists {
		return nil, newError(CodeConstraint, table, id, "duplicate key", nil)
	}
	row := cloneData(data)
	stamp := m.stamp()
	row["id"] = id
	row["created_at"] = stamp
	row["updated_at"] = stamp
	rows[id] = row
	m.writes = append(m.writes, Write{Op: "insert", Table: table, ID: id, Data: cloneData(row)})
	return recordFrom(table, id, cloneData(row))
}

// UpdateRecord implements Client. Fields in data replace existing ones.
func (m *Memory) UpdateRecord(_ context.Context, table, id string, data map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.precheck(table, id); err != nil {
		return nil, err
	}
	row, ok := m.tables[table][id]
	if !ok {
		return nil, newError(CodeNotFound, table, id, "record not found", nil)
	}
	for k, v := range data {
		if k == "id" || k == "created_at" || k == "updated_at" {
			continue
		}
		row[k] = v
	}
	row["updated_at"] = m.stamp()
	m.writes = append(m.writes, Write{Op: "update", Table: table, ID: id, Data: cloneData(row)})
	return recordFrom(table, id, cloneData(row))
}

// Capabilities implements CapabilityProber.
func (m *Memory) Capabilities(context.Context) (Capabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.reachable {
		return Capabilities{}, newError(CodeNetwork, "", "", "authority unreachable", nil)
	}
	return m.caps, nil
}

// Health implements HealthChecker.
func (m *Memory) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.reachable {
		return newError(CodeNetwork, "", "", "authority unreachable", nil)
	}
	return nil
}

func (m *Memory) precheck(table, id string) error {
	if !m.reachable {
		return newError(CodeNetwork, table, id, "authority unreachable", nil)
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		var authErr *Error
		if errors.As(err, &authErr) {
			return err
		}
		return newError(CodeNetwork, table, id, "", err)
	}
	if table == "" {
		return newError(CodeValidation, table, id, "table required", nil)
	}
	if !m.caps.Telemetry && table == TelemetryTable {
		return newError(CodeValidation, table, id, "relation does not exist", nil)
	}
	return nil
}

func (m *Memory) table(name string) map[string]map[string]any {
	rows, ok := m.tables[name]
	if !ok {
		rows = make(map[string]map[string]any)
		m.tables[name] = rows
	}
	return rows
}

// stamp returns a strictly increasing timestamp string.
func (m *Memory) stamp() string {
	now := m.now().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now.Format(time.RFC3339Nano)
}
