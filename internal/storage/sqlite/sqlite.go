// Package sqlite implements storage.Storage on SQLite via the
// ncruces/go-sqlite3 wasm driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/chronicle/internal/storage"
)

// SQLiteStorage is the SQLite-backed implementation of
// storage.Storage.
type SQLiteStorage struct {
	db *sql.DB
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// New opens (creating if necessary) the database at path and applies
// the schema and seed data.
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	// file: prefix as required by the ncruces driver
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, seedData); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed prompts: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RunInTransaction executes fn inside a single transaction. BEGIN
// IMMEDIATE acquires the write lock early so concurrent writers
// serialize instead of deadlocking mid-transaction.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// database/sql has no IMMEDIATE mode on BeginTx, so the transaction
	// runs over raw conn Exec with manual COMMIT/ROLLBACK.
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	if err := fn(&connTx{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// connTx adapts a pinned *sql.Conn holding an open transaction to the
// storage.Tx interface.
type connTx struct {
	conn *sql.Conn
}

var _ storage.Tx = (*connTx)(nil)

func (t *connTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

func (t *connTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}

// canonical timestamp format stored in every *_at / timestamp column
const tsLayout = "2006-01-02T15:04:05.000Z"

func fmtTs(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTs(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
