package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/storetest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("GYMSUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GYMSUB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := db.db.ExecContext(ctx, `TRUNCATE balances, substitutions, trainers`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store { return newTestDB(t) })
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Open(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, "storage"},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, "storage"},
		{"balance race", &pgconn.PgError{Code: codeUniqueViolation, TableName: "balances"}, "storage"},
		{"duplicate trainer", &pgconn.PgError{Code: codeUniqueViolation, TableName: "trainers"}, "invalid_input"},
		{"foreign key", &pgconn.PgError{Code: codeForeignKeyViolation}, "invalid_input"},
		{"check", &pgconn.PgError{Code: codeCheckViolation}, "invalid_input"},
		{"other pg error", &pgconn.PgError{Code: "57014"}, "storage"},
		{"connection", errors.New("connection reset"), "storage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.Kind(classify("op", tt.err)); got != tt.kind {
				t.Errorf("Kind(classify(%v)) = %q, want %q", tt.err, got, tt.kind)
			}
		})
	}
}
