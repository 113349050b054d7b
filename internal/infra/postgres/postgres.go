// Package postgres is the shared-server Store for multi-instance deployments.
// Transactions run SERIALIZABLE and lock the balance row they rewrite, so two
// concurrent substitutions on one pair never lose an update; the loser gets a
// retryable storage error.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/sqlstore"
)

var _ domain.Store = (*DB)(nil)

// SQLSTATE codes the store distinguishes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
)

var dialect = sqlstore.Dialect{
	Name:       "postgres",
	Bindvar:    sqlstore.DollarBindvar,
	LockClause: " FOR UPDATE",
	Classify:   classify,
	// Byte-order collation keeps CHECK (trainer_low < trainer_high) in
	// agreement with Go string comparison.
	KeyType: `TEXT COLLATE "C"`,
}

var txOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}

// DB is a Store over a pgx connection pool.
type DB struct {
	db *sql.DB
}

// Open connects to dsn and applies migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", domain.ErrInvalidInput)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// WithTx runs fn in one serializable transaction.
func (d *DB) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return sqlstore.RunTx(ctx, d.db, txOptions, dialect, fn)
}

// Close releases the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// classify maps SQLSTATE codes onto domain error kinds. A unique violation on
// balances means a concurrent writer created the pair row first; that one is
// retryable like a serialization failure.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return domain.WrapStorage(op, err)
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return domain.WrapStorage(op, err)
	case codeUniqueViolation:
		if pgErr.TableName == "balances" {
			return domain.WrapStorage(op, err)
		}
		return fmt.Errorf("%w: %s: %s", domain.ErrInvalidInput, op, pgErr.Message)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s: unknown trainer", domain.ErrInvalidInput, op)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s: %s", domain.ErrInvalidInput, op, pgErr.Message)
	}
	return domain.WrapStorage(op, err)
}
