// Package store is the execution gateway to the governed dataset. The
// handle is read-only for the lifetime of the process and every statement
// is gated again here, independent of upstream validation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrorKind classifies execution failures for feedback routing.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrForbidden ErrorKind = "forbidden"
	ErrRuntime   ErrorKind = "runtime"
)

// ExecutionError is the structured failure handed back to the generator as
// execution feedback. Message is replayed verbatim into the repair prompt.
type ExecutionError struct {
	Kind    ErrorKind
	Query   string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("store: %s: %s", e.Kind, e.Message)
}

// DB wraps a read-only database handle. No write-capable handle exists
// anywhere in the process.
type DB struct {
	db      *sql.DB
	driver  string
	maxRows int
}

// Open opens the dataset file read-only via the pure-Go sqlite driver.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, driver: "sqlite", maxRows: DefaultMaxRows}, nil
}

// OpenPostgres connects to a postgres-hosted dataset with the session
// forced read-only at the server.
func OpenPostgres(dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if !strings.Contains(dsn, "default_transaction_read_only") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "options=-c%20default_transaction_read_only%3Don"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, driver: "pgx", maxRows: DefaultMaxRows}, nil
}

// OpenFromEnv prefers a postgres DSN when one is configured and falls back
// to the local sqlite file otherwise.
func OpenFromEnv(path, pgDSN string) (*DB, error) {
	if strings.TrimSpace(pgDSN) != "" {
		return OpenPostgres(pgDSN)
	}
	return Open(path)
}

const DefaultMaxRows = 500

func (d *DB) Close() error { return d.db.Close() }

// ExecuteReadOnly runs exactly one validated query under a hard timeout.
// The statement-class gate here is intentionally redundant with sqlcheck:
// execution must refuse writes even if every upstream check were bypassed.
func (d *DB) ExecuteReadOnly(ctx context.Context, query string, timeout time.Duration) (*TabularResult, error) {
	if err := guard(query); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, execError(ctx, query, err)
	}
	defer rows.Close()

	res, err := scanRows(rows, d.maxRows)
	if err != nil {
		return nil, execError(ctx, query, err)
	}
	return res, nil
}

// Tables lists user table names, for catalog construction.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	q := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if d.driver == "pgx" {
		q = `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`
	}
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DDL returns the CREATE TABLE text for one table. For sqlite this is the
// stored DDL; for postgres it is synthesized from information_schema.
func (d *DB) DDL(ctx context.Context, table string) (string, error) {
	if d.driver == "sqlite" {
		var ddl sql.NullString
		err := d.db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
		if err != nil {
			return "", err
		}
		if !ddl.Valid {
			return "", fmt.Errorf("store: no DDL for table %q", table)
		}
		return strings.TrimSpace(ddl.String) + ";", nil
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return "", err
		}
		cols = append(cols, fmt.Sprintf("    %s %s", name, strings.ToUpper(typ)))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("store: no DDL for table %q", table)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", table, strings.Join(cols, ",\n")), nil
}

// RowCount returns the table's row count, used for catalog descriptions.
func (d *DB) RowCount(ctx context.Context, table string) (int64, error) {
	if !identPattern.MatchString(table) {
		return 0, fmt.Errorf("store: invalid table name %q", table)
	}
	var n int64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n)
	return n, err
}

func execError(ctx context.Context, query string, err error) *ExecutionError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{Kind: ErrTimeout, Query: query,
			Message: "query exceeded the execution timeout; narrow it with a filter or LIMIT"}
	}
	if errors.Is(err, context.Canceled) {
		return &ExecutionError{Kind: ErrTimeout, Query: query, Message: "query canceled"}
	}
	return &ExecutionError{Kind: ErrRuntime, Query: query, Message: err.Error()}
}
