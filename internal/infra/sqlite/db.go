// Package sqlite is the embedded Store, backed by the pure-Go modernc SQLite
// driver. It is the default storage for the CLI and a single-node server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/sqlstore"
)

// FileName is the database file created inside the data directory.
const FileName = "gymsub.db"

var _ domain.Store = (*DB)(nil)

var dialect = sqlstore.Dialect{
	Name:     "sqlite",
	Bindvar:  sqlstore.QuestionBindvar,
	Classify: classify,
}

// DB wraps a single-writer SQLite connection.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database inside dir and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenPath(filepath.Join(dir, FileName))
}

// OpenPath opens the database file at path.
//
// The connection is configured with:
//   - WAL journal for readers during writes
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//
// SQLite allows one writer, so the pool is pinned to one connection; that
// also serializes every read-modify-write on a balance.
func OpenPath(path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db, path: path}, nil
}

// WithTx runs fn in one SQLite transaction.
func (d *DB) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return sqlstore.RunTx(ctx, d.db, nil, dialect, fn)
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// classify turns constraint violations into input errors; everything else
// (busy, I/O) is a retryable storage failure.
func classify(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s: unknown trainer", domain.ErrInvalidInput, op)
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, op, err)
		}
	}
	return domain.WrapStorage(op, err)
}
