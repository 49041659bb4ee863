package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/services"
)

// Collection names one of the local tables.
type Collection string

const (
	// Mutations holds queued authority writes.
	Mutations Collection = "mutation_queue"
	// Audio holds captured recordings awaiting transcription.
	Audio Collection = "audio_queue"
	// Conflicts holds detected divergences and their resolutions.
	Conflicts Collection = "sync_conflicts"
)

func (c Collection) valid() bool {
	switch c {
	case Mutations, Audio, Conflicts:
		return true
	default:
		return false
	}
}

// timeLayout is fixed width so string comparison matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = "seq, id, status, created_at, updated_at, body, blob"

// Record is one persisted row.
type Record struct {
	Seq       int64
	ID        string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      []byte
	Blob      []byte
}

// Stats aggregates a collection.
type Stats struct {
	Count     int
	ByStatus  map[string]int
	BlobBytes int64
	Oldest    time.Time
}

// FormatTime renders t in the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec        Record
		createdRaw string
		updatedRaw string
		body       string
		blob       []byte
	)
	if err := scanner.Scan(&rec.Seq, &rec.ID, &rec.Status, &createdRaw, &updatedRaw, &body, &blob); err != nil {
		return nil, err
	}
	rec.CreatedAt = parseTime(createdRaw)
	rec.UpdatedAt = parseTime(updatedRaw)
	rec.Body = []byte(body)
	if len(blob) > 0 {
		rec.Blob = blob
	}
	return &rec, nil
}

func (s *Store) table(c Collection, operation string) (string, error) {
	if s == nil || s.db == nil {
		return "", fatal(operation, "store not open", nil)
	}
	if !c.valid() {
		return "", services.Wrap(services.ErrValidation, "store", operation, fmt.Sprintf("unknown collection %q", c), nil)
	}
	return string(c), nil
}

// Put inserts rec or replaces the existing row with the same id. created_at
// and seq of an existing row are preserved.
func (s *Store) Put(ctx context.Context, c Collection, rec *Record) error {
	table, err := s.table(c, "put")
	if err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return services.Wrap(services.ErrValidation, "store", "put", "record id required", nil)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	body := rec.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO `+table+` (id, status, created_at, updated_at, body, blob, blob_size)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             status = excluded.status,
             updated_at = excluded.updated_at,
             body = excluded.body,
             blob = excluded.blob,
             blob_size = excluded.blob_size`,
		rec.ID,
		rec.Status,
		FormatTime(rec.CreatedAt),
		FormatTime(rec.UpdatedAt),
		string(body),
		nullableBlob(rec.Blob),
		len(rec.Blob),
	)
	if err != nil {
		return fatal("put", "write "+rec.ID, err)
	}
	return nil
}

// Get returns the record with id, or nil when absent.
func (s *Store) Get(ctx context.Context, c Collection, id string) (*Record, error) {
	table, err := s.table(c, "get")
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM `+table+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fatal("get", "read "+id, err)
	}
	return rec, nil
}

// Delete removes the record with id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, c Collection, id string) error {
	table, err := s.table(c, "delete")
	if err != nil {
		return err
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fatal("delete", "remove "+id, err)
	}
	return nil
}

// ListByStatus returns records whose status is one of statuses, oldest first.
func (s *Store) ListByStatus(ctx context.Context, c Collection, statuses ...string) ([]*Record, error) {
	table, err := s.table(c, "list")
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return s.ListAll(ctx, c)
	}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return s.query(ctx, "list",
		`SELECT `+recordColumns+` FROM `+table+` WHERE status IN (`+makePlaceholders(len(statuses))+`) ORDER BY created_at, seq`,
		args...)
}

// ListAll returns every record, oldest first.
func (s *Store) ListAll(ctx context.Context, c Collection) ([]*Record, error) {
	table, err := s.table(c, "list")
	if err != nil {
		return nil, err
	}
	return s.query(ctx, "list", `SELECT `+recordColumns+` FROM `+table+` ORDER BY created_at, seq`)
}

// Oldest returns the record with the earliest created_at, or nil when empty.
func (s *Store) Oldest(ctx context.Context, c Collection) (*Record, error) {
	table, err := s.table(c, "oldest")
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM `+table+` ORDER BY created_at, seq LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fatal("oldest", "read oldest", err)
	}
	return rec, nil
}

func (s *Store) query(ctx context.Context, operation, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fatal(operation, "query", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fatal(operation, "scan", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fatal(operation, "iterate", err)
	}
	return records, nil
}

// Count returns the number of records in c.
func (s *Store) Count(ctx context.Context, c Collection) (int, error) {
	table, err := s.table(c, "count")
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM `+table).Scan(&count); err != nil {
		return 0, fatal("count", "count rows", err)
	}
	return count, nil
}

// Update loads id, applies fn, and writes the result inside one transaction.
// fn returning an error aborts without writing.
func (s *Store) Update(ctx context.Context, c Collection, id string, fn func(*Record) error) (*Record, error) {
	table, err := s.table(c, "update")
	if err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)

	var updated *Record
	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM `+table+` WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "store", "update", fmt.Sprintf("%s %s", c, id), nil)
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.ID = id
		rec.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET status = ?, updated_at = ?, body = ?, blob = ?, blob_size = ? WHERE id = ?`,
			rec.Status, FormatTime(rec.UpdatedAt), string(rec.Body), nullableBlob(rec.Blob), len(rec.Blob), id,
		); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		if isClassified(err) {
			return nil, err
		}
		return nil, fatal("update", "update "+id, err)
	}
	return updated, nil
}

// DeleteOlderThan removes records created before cutoff and returns their ids.
func (s *Store) DeleteOlderThan(ctx context.Context, c Collection, cutoff time.Time) ([]string, error) {
	table, err := s.table(c, "expire")
	if err != nil {
		return nil, err
	}
	return s.deleteReturning(ctx, "expire", `DELETE FROM `+table+` WHERE created_at < ? RETURNING id`, FormatTime(cutoff))
}

// DeleteByStatus removes every record whose status is one of statuses and returns their ids.
func (s *Store) DeleteByStatus(ctx context.Context, c Collection, statuses ...string) ([]string, error) {
	table, err := s.table(c, "purge")
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return s.deleteReturning(ctx, "purge",
		`DELETE FROM `+table+` WHERE status IN (`+makePlaceholders(len(statuses))+`) RETURNING id`, args...)
}

func (s *Store) deleteReturning(ctx context.Context, operation, query string, args ...any) ([]string, error) {
	ctx = ensureContext(ctx)
	var ids []string
	err := retryOnBusy(ctx, func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fatal(operation, "delete rows", err)
	}
	return ids, nil
}

// Stats aggregates counts per status, blob bytes, and the oldest created_at.
func (s *Store) Stats(ctx context.Context, c Collection) (Stats, error) {
	table, err := s.table(c, "stats")
	if err != nil {
		return Stats{}, err
	}
	ctx = ensureContext(ctx)
	stats := Stats{ByStatus: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1), COALESCE(SUM(blob_size), 0) FROM `+table+` GROUP BY status`)
	if err != nil {
		return Stats{}, fatal("stats", "aggregate", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
			bytes  int64
		)
		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return Stats{}, fatal("stats", "scan", err)
		}
		stats.ByStatus[status] = count
		stats.Count += count
		stats.BlobBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fatal("stats", "iterate", err)
	}

	var oldest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM `+table).Scan(&oldest); err != nil {
		return Stats{}, fatal("stats", "oldest", err)
	}
	if oldest.Valid {
		stats.Oldest = parseTime(oldest.String)
	}
	return stats, nil
}

func isClassified(err error) bool {
	return errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, services.ErrValidation) ||
		errors.Is(err, services.ErrConflict) ||
		errors.Is(err, services.ErrCapacity)
}

func nullableBlob(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
