package authority

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresClient writes directly to the authority database. Tables are
// expected to have a text id primary key and an updated_at timestamptz.
type PostgresClient struct {
	db *sql.DB
}

var (
	_ Client           = (*PostgresClient)(nil)
	_ CapabilityProber = (*PostgresClient)(nil)
	_ HealthChecker    = (*PostgresClient)(nil)
)

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresClient, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("authority dsn required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresClient{db: db}, nil
}

// NewPostgresClient wraps an existing pool.
func NewPostgresClient(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// Close closes the pool.
func (c *PostgresClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// ReadRecord implements Client.
func (c *PostgresClient) ReadRecord(ctx context.Context, table, id string) (*Record, error) {
	ident, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = c.db.QueryRowContext(ctx, `SELECT row_to_json(t) FROM `+ident+` AS t WHERE t.id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(CodeNotFound, table, id, "record not found", nil)
	}
	if err != nil {
		return nil, classifyPgError(table, id, err)
	}
	return decodeRow(table, id, raw)
}

// InsertRecord implements Client.
func (c *PostgresClient) InsertRecord(ctx context.Context, table string, data map[string]any) (*Record, error) {
	query, args, err := buildInsert(table, data)
	if err != nil {
		return nil, err
	}
	id, _ := data["id"].(string)
	var raw []byte
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return nil, classifyPgError(table, id, err)
	}
	return decodeRow(table, id, raw)
}

// UpdateRecord implements Client.
func (c *PostgresClient) UpdateRecord(ctx context.Context, table, id string, data map[string]any) (*Record, error) {
	query, args, err := buildUpdate(table, id, data)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(CodeNotFound, table, id, "record not found", nil)
	}
	if err != nil {
		return nil, classifyPgError(table, id, err)
	}
	return decodeRow(table, id, raw)
}

// Capabilities implements CapabilityProber by checking which bookkeeping
// tables exist.
func (c *PostgresClient) Capabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities
	err := c.db.QueryRowContext(ctx,
		`SELECT to_regclass($1) IS NOT NULL, to_regclass($2) IS NOT NULL`,
		TelemetryTable, ConflictTable,
	).Scan(&caps.Telemetry, &caps.ConflictMirror)
	if err != nil {
		return Capabilities{}, classifyPgError("", "", err)
	}
	return caps, nil
}

// Health implements HealthChecker.
func (c *PostgresClient) Health(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return newError(CodeNetwork, "", "", "ping", err)
	}
	return nil
}

func quoteIdent(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", newError(CodeValidation, name, "", "invalid identifier", nil)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// writableColumns returns data's keys minus server-managed columns, sorted.
func writableColumns(data map[string]any, keepID bool) []string {
	cols := make([]string, 0, len(data))
	for k := range data {
		switch k {
		case "updated_at", "created_at":
			continue
		case "id":
			if !keepID {
				continue
			}
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, data map[string]any) (string, []any, error) {
	ident, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	cols := writableColumns(data, true)
	names := make([]string, 0, len(cols)+1)
	values := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		quoted, err := quoteIdent(col)
		if err != nil {
			return "", nil, err
		}
		names = append(names, quoted)
		values = append(values, "$"+strconv.Itoa(i+1))
		arg, err := columnValue(data[col])
		if err != nil {
			return "", nil, newError(CodeValidation, table, "", "encode "+col, err)
		}
		args = append(args, arg)
	}
	names = append(names, `"updated_at"`)
	values = append(values, "now()")
	query := `INSERT INTO ` + ident + ` AS t (` + strings.Join(names, ", ") + `) VALUES (` +
		strings.Join(values, ", ") + `) RETURNING row_to_json(t)`
	return query, args, nil
}

func buildUpdate(table, id string, data map[string]any) (string, []any, error) {
	ident, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	cols := writableColumns(data, false)
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		quoted, err := quoteIdent(col)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, quoted+" = $"+strconv.Itoa(i+1))
		arg, err := columnValue(data[col])
		if err != nil {
			return "", nil, newError(CodeValidation, table, id, "encode "+col, err)
		}
		args = append(args, arg)
	}
	sets = append(sets, `"updated_at" = now()`)
	args = append(args, id)
	query := `UPDATE ` + ident + ` AS t SET ` + strings.Join(sets, ", ") +
		` WHERE t.id = $` + strconv.Itoa(len(args)) + ` RETURNING row_to_json(t)`
	return query, args, nil
}

// columnValue encodes nested objects and arrays as JSON for jsonb columns.
func columnValue(value any) (any, error) {
	switch value.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	default:
		return value, nil
	}
}

func decodeRow(table, id string, raw []byte) (*Record, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, newError(CodeValidation, table, id, "decode row", err)
	}
	if rowID, ok := data["id"].(string); ok && id == "" {
		id = rowID
	}
	return recordFrom(table, id, data)
}

func classifyPgError(table, id string, err error) *Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return newError(CodePermission, table, id, pgErr.Message, err)
		case strings.HasPrefix(pgErr.Code, "23"):
			return newError(CodeConstraint, table, id, pgErr.Message, err)
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "42"):
			return newError(CodeValidation, table, id, pgErr.Message, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57"), strings.HasPrefix(pgErr.Code, "53"):
			return newError(CodeNetwork, table, id, pgErr.Message, err)
		default:
			return newError(CodeValidation, table, id, pgErr.Message, err)
		}
	}
	// Connection resets, timeouts, and closed pools are all worth retrying.
	return newError(CodeNetwork, table, id, "", err)
}
