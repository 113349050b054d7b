// Package sqlstore implements domain.Tx over database/sql. The sqlite and
// postgres adapters only supply a Dialect; schema and queries are shared.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gymsub/gymsub/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so they sort lexicographically.
const (
	TimeLayout = "2006-01-02T15:04:05.000000000Z"
	DateLayout = "2006-01-02"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name string
	// Bindvar returns the placeholder for the n-th (1-based) argument.
	Bindvar func(n int) string
	// LockClause is appended to balance reads, e.g. " FOR UPDATE".
	LockClause string
	// Classify maps a driver error to a domain error.
	Classify func(op string, err error) error
	// KeyType is the column type for trainer ids. Ordering on it must match
	// Go string comparison, which NewPairKey relies on.
	KeyType string
}

// QuestionBindvar is the "?" placeholder style.
func QuestionBindvar(int) string { return "?" }

// DollarBindvar is the "$n" placeholder style.
func DollarBindvar(n int) string { return "$" + strconv.Itoa(n) }

func (d Dialect) rebind(query string) string {
	if d.Bindvar == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Bindvar(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if d.Classify != nil {
		return d.Classify(op, err)
	}
	return domain.WrapStorage(op, err)
}

// RunTx runs fn inside one database transaction, committing only if fn succeeds.
func RunTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, d Dialect, fn func(domain.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return d.classify("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, d: d}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return d.classify("commit", err)
	}
	return nil
}

// Tx is a domain.Tx bound to one *sql.Tx.
type Tx struct {
	tx *sql.Tx
	d  Dialect
}

var _ domain.Tx = (*Tx)(nil)

func (t *Tx) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, t.d.classify(op, err)
	}
	return res, nil
}

func (t *Tx) affected(op string, res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return t.d.classify(op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(ts time.Time) string { return ts.UTC().Format(TimeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// ─── Trainers ───────────────────────────────────────────────────────────────

func (t *Tx) CreateTrainer(ctx context.Context, tr domain.Trainer) error {
	_, err := t.exec(ctx, "create trainer",
		`INSERT INTO trainers (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		string(tr.ID), tr.Name, formatTime(tr.CreatedAt), formatTime(tr.UpdatedAt))
	return err
}

func (t *Tx) GetTrainer(ctx context.Context, id domain.TrainerID) (*domain.Trainer, error) {
	row := t.tx.QueryRowContext(ctx, t.d.rebind(
		`SELECT id, name, created_at, updated_at FROM trainers WHERE id = ?`), string(id))
	tr, err := scanTrainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTrainerNotFound
	}
	if err != nil {
		return nil, t.d.classify("get trainer", err)
	}
	return tr, nil
}

func (t *Tx) ListTrainers(ctx context.Context) ([]domain.Trainer, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM trainers ORDER BY name, id`)
	if err != nil {
		return nil, t.d.classify("list trainers", err)
	}
	defer rows.Close()

	var out []domain.Trainer
	for rows.Next() {
		tr, err := scanTrainer(rows)
		if err != nil {
			return nil, t.d.classify("scan trainer", err)
		}
		out = append(out, *tr)
	}
	return out, t.d.classify("list trainers", rows.Err())
}

func (t *Tx) UpdateTrainer(ctx context.Context, tr domain.Trainer) error {
	res, err := t.exec(ctx, "update trainer",
		`UPDATE trainers SET name = ?, updated_at = ? WHERE id = ?`,
		tr.Name, formatTime(tr.UpdatedAt), string(tr.ID))
	if err != nil {
		return err
	}
	return t.affected("update trainer", res, domain.ErrTrainerNotFound)
}

func (t *Tx) DeleteTrainer(ctx context.Context, id domain.TrainerID) error {
	res, err := t.exec(ctx, "delete trainer", `DELETE FROM trainers WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	return t.affected("delete trainer", res, domain.ErrTrainerNotFound)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrainer(s scanner) (*domain.Trainer, error) {
	var (
		tr               domain.Trainer
		id               string
		created, updated string
	)
	if err := s.Scan(&id, &tr.Name, &created, &updated); err != nil {
		return nil, err
	}
	tr.ID = domain.TrainerID(id)
	var err error
	if tr.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("trainer %s created_at: %w", id, err)
	}
	if tr.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("trainer %s updated_at: %w", id, err)
	}
	return &tr, nil
}

// ─── Substitutions ──────────────────────────────────────────────────────────

const substitutionColumns = `id, date, absent_trainer_id, substitute_trainer_id, notes, created_at`

func (t *Tx) InsertSubstitution(ctx context.Context, s domain.Substitution) error {
	var notes sql.NullString
	if s.Notes != "" {
		notes = sql.NullString{String: s.Notes, Valid: true}
	}
	_, err := t.exec(ctx, "insert substitution",
		`INSERT INTO substitutions (`+substitutionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		string(s.ID), s.Date.UTC().Format(DateLayout), string(s.AbsentTrainer),
		string(s.SubstituteTrainer), notes, formatTime(s.CreatedAt))
	return err
}

func (t *Tx) GetSubstitution(ctx context.Context, id domain.SubstitutionID) (*domain.Substitution, error) {
	row := t.tx.QueryRowContext(ctx, t.d.rebind(
		`SELECT `+substitutionColumns+` FROM substitutions WHERE id = ?`), string(id))
	s, err := scanSubstitution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubstitutionNotFound
	}
	if err != nil {
		return nil, t.d.classify("get substitution", err)
	}
	return s, nil
}

func (t *Tx) DeleteSubstitution(ctx context.Context, id domain.SubstitutionID) error {
	res, err := t.exec(ctx, "delete substitution", `DELETE FROM substitutions WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	return t.affected("delete substitution", res, domain.ErrSubstitutionNotFound)
}

func (t *Tx) ListSubstitutions(ctx context.Context, f domain.SubstitutionFilter) ([]domain.Substitution, error) {
	var (
		where []string
		args  []any
	)
	if f.Trainer != "" {
		where = append(where, `(absent_trainer_id = ? OR substitute_trainer_id = ?)`)
		args = append(args, string(f.Trainer), string(f.Trainer))
	}
	if !f.From.IsZero() {
		where = append(where, `date >= ?`)
		args = append(args, domain.DateOnly(f.From).Format(DateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, `date <= ?`)
		args = append(args, domain.DateOnly(f.To).Format(DateLayout))
	}

	query := `SELECT ` + substitutionColumns + ` FROM substitutions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY date DESC, created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, t.d.classify("list substitutions", err)
	}
	defer rows.Close()

	var out []domain.Substitution
	for rows.Next() {
		s, err := scanSubstitution(rows)
		if err != nil {
			return nil, t.d.classify("scan substitution", err)
		}
		out = append(out, *s)
	}
	return out, t.d.classify("list substitutions", rows.Err())
}

func (t *Tx) DeleteSubstitutionsFor(ctx context.Context, id domain.TrainerID) (int, error) {
	res, err := t.exec(ctx, "delete trainer substitutions",
		`DELETE FROM substitutions WHERE absent_trainer_id = ? OR substitute_trainer_id = ?`,
		string(id), string(id))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), t.d.classify("delete trainer substitutions", err)
}

func scanSubstitution(s scanner) (*domain.Substitution, error) {
	var (
		sub                          domain.Substitution
		id, date, absent, substitute string
		notes                        sql.NullString
		created                      string
	)
	if err := s.Scan(&id, &date, &absent, &substitute, &notes, &created); err != nil {
		return nil, err
	}
	sub.ID = domain.SubstitutionID(id)
	sub.AbsentTrainer = domain.TrainerID(absent)
	sub.SubstituteTrainer = domain.TrainerID(substitute)
	sub.Notes = notes.String

	var err error
	if sub.Date, err = time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("substitution %s date: %w", id, err)
	}
	if sub.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("substitution %s created_at: %w", id, err)
	}
	return &sub, nil
}

// ─── Balances ───────────────────────────────────────────────────────────────

func (t *Tx) GetBalance(ctx context.Context, pair domain.PairKey) (*domain.Balance, error) {
	row := t.tx.QueryRowContext(ctx, t.d.rebind(
		`SELECT debtor_id, days_owed, updated_at FROM balances
		 WHERE trainer_low = ? AND trainer_high = ?`+t.d.LockClause),
		string(pair.Low), string(pair.High))

	var (
		debtor, updated string
		days            int
	)
	err := row.Scan(&debtor, &days, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, t.d.classify("get balance", err)
	}
	b := &domain.Balance{
		Debtor:   domain.TrainerID(debtor),
		Creditor: pair.Other(domain.TrainerID(debtor)),
		DaysOwed: days,
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, t.d.classify("get balance", err)
	}
	return b, nil
}

func (t *Tx) PutBalance(ctx context.Context, pair domain.PairKey, b *domain.Balance) error {
	if b == nil {
		_, err := t.exec(ctx, "delete balance",
			`DELETE FROM balances WHERE trainer_low = ? AND trainer_high = ?`,
			string(pair.Low), string(pair.High))
		return err
	}
	if b.Pair() != pair {
		return fmt.Errorf("%w: balance %s->%s does not belong to %s", domain.ErrInvalidInput, b.Debtor, b.Creditor, pair)
	}
	_, err := t.exec(ctx, "put balance",
		`INSERT INTO balances (trainer_low, trainer_high, debtor_id, days_owed, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (trainer_low, trainer_high) DO UPDATE SET
			debtor_id  = excluded.debtor_id,
			days_owed  = excluded.days_owed,
			updated_at = excluded.updated_at`,
		string(pair.Low), string(pair.High), string(b.Debtor), b.DaysOwed, formatTime(b.UpdatedAt))
	return err
}

func (t *Tx) ListBalances(ctx context.Context, trainer domain.TrainerID) ([]domain.Balance, error) {
	query := `SELECT trainer_low, trainer_high, debtor_id, days_owed, updated_at FROM balances`
	var args []any
	if trainer != "" {
		query += ` WHERE trainer_low = ? OR trainer_high = ?`
		args = append(args, string(trainer), string(trainer))
	}
	query += ` ORDER BY days_owed DESC, trainer_low, trainer_high`

	rows, err := t.tx.QueryContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, t.d.classify("list balances", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var (
			low, high, debtor, updated string
			days                       int
		)
		if err := rows.Scan(&low, &high, &debtor, &days, &updated); err != nil {
			return nil, t.d.classify("scan balance", err)
		}
		pair := domain.PairKey{Low: domain.TrainerID(low), High: domain.TrainerID(high)}
		ts, err := parseTime(updated)
		if err != nil {
			return nil, t.d.classify("scan balance", err)
		}
		out = append(out, domain.Balance{
			Debtor:    domain.TrainerID(debtor),
			Creditor:  pair.Other(domain.TrainerID(debtor)),
			DaysOwed:  days,
			UpdatedAt: ts,
		})
	}
	return out, t.d.classify("list balances", rows.Err())
}

func (t *Tx) DeleteBalancesFor(ctx context.Context, id domain.TrainerID) (int, error) {
	res, err := t.exec(ctx, "delete trainer balances",
		`DELETE FROM balances WHERE trainer_low = ? OR trainer_high = ?`, string(id), string(id))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), t.d.classify("delete trainer balances", err)
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements for the dialect. Each string is a
// single statement.
func Migrations(d Dialect) []string {
	key := d.KeyType
	if key == "" {
		key = "TEXT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS trainers (
			id         ` + key + ` PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trainers_name ON trainers(name)`,

		`CREATE TABLE IF NOT EXISTS substitutions (
			id                    TEXT PRIMARY KEY,
			date                  TEXT NOT NULL,
			absent_trainer_id     ` + key + ` NOT NULL REFERENCES trainers(id),
			substitute_trainer_id ` + key + ` NOT NULL REFERENCES trainers(id),
			notes                 TEXT,
			created_at            TEXT NOT NULL,
			CHECK (absent_trainer_id <> substitute_trainer_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_substitutions_absent ON substitutions(absent_trainer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_substitutions_substitute ON substitutions(substitute_trainer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_substitutions_date ON substitutions(date)`,

		// One row per unordered pair: (low, high) is the primary key.
		`CREATE TABLE IF NOT EXISTS balances (
			trainer_low  ` + key + ` NOT NULL REFERENCES trainers(id),
			trainer_high ` + key + ` NOT NULL REFERENCES trainers(id),
			debtor_id    ` + key + ` NOT NULL,
			days_owed    INTEGER NOT NULL,
			updated_at   TEXT NOT NULL,
			PRIMARY KEY (trainer_low, trainer_high),
			CHECK (trainer_low < trainer_high),
			CHECK (debtor_id = trainer_low OR debtor_id = trainer_high),
			CHECK (days_owed >= 1)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_high ON balances(trainer_high)`,
	}
}

// Migrate applies the dialect's migrations on db.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range Migrations(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", d.Name, err)
		}
	}
	return nil
}
