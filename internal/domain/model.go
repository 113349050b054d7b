// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the architecture: it depends on nothing.
package domain

import (
	"strings"
	"time"
)

// ─── Trainer Types ──────────────────────────────────────────────────────────

// TrainerID is an opaque trainer identifier issued by the trainer registry.
type TrainerID string

// Trainer is a registered gym trainer.
type Trainer struct {
	ID        TrainerID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeName trims a trainer name and rejects blank ones.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// ─── Substitution Types ─────────────────────────────────────────────────────

// SubstitutionID identifies a substitution record.
type SubstitutionID string

// Substitution records that SubstituteTrainer covered for AbsentTrainer on Date.
// Records are immutable: they are created or deleted, never edited.
//
// AbsentTrainer != SubstituteTrainer is guaranteed by the caller before the
// record reaches the ledger.
type Substitution struct {
	ID                SubstitutionID `json:"id"`
	Date              time.Time      `json:"date"`
	AbsentTrainer     TrainerID      `json:"absent_trainer_id"`
	SubstituteTrainer TrainerID      `json:"substitute_trainer_id"`
	Notes             string         `json:"notes,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Involves reports whether the trainer took part in the substitution in either role.
func (s Substitution) Involves(id TrainerID) bool {
	return s.AbsentTrainer == id || s.SubstituteTrainer == id
}

// Pair returns the unordered pair the substitution affects.
func (s Substitution) Pair() PairKey {
	return NewPairKey(s.AbsentTrainer, s.SubstituteTrainer)
}

// SubstitutionFilter narrows substitution listings. Zero values match everything.
type SubstitutionFilter struct {
	Trainer TrainerID // either role
	From    time.Time // inclusive
	To      time.Time // inclusive
	Query   string    // case-insensitive match on notes, trainer names or the YYYY-MM-DD date
}

// MatchDate reports whether d falls inside the filter's date range.
// Bounds and d are compared as calendar days.
func (f SubstitutionFilter) MatchDate(d time.Time) bool {
	d = DateOnly(d)
	if !f.From.IsZero() && d.Before(DateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(DateOnly(f.To)) {
		return false
	}
	return true
}

// DateOnly truncates t to its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ─── Balance Types ──────────────────────────────────────────────────────────

// Balance is a directed debt: Debtor owes Creditor DaysOwed days.
// DaysOwed is always >= 1; an even pair has no Balance at all.
type Balance struct {
	Debtor    TrainerID `json:"debtor_id"`
	Creditor  TrainerID `json:"creditor_id"`
	DaysOwed  int       `json:"days_owed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pair returns the unordered pair the balance belongs to.
func (b Balance) Pair() PairKey {
	return NewPairKey(b.Debtor, b.Creditor)
}

// Involves reports whether the trainer is either side of the balance.
func (b Balance) Involves(id TrainerID) bool {
	return b.Debtor == id || b.Creditor == id
}

// PairKey is an unordered trainer pair normalized so that Low < High.
type PairKey struct {
	Low  TrainerID
	High TrainerID
}

// NewPairKey builds the normalized key for {a, b}.
func NewPairKey(a, b TrainerID) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

// Other returns the member of the pair that is not id.
func (k PairKey) Other(id TrainerID) TrainerID {
	if k.Low == id {
		return k.High
	}
	return k.Low
}

// String formats the key for logs.
func (k PairKey) String() string {
	return string(k.Low) + "|" + string(k.High)
}

// CascadeResult reports what a trainer removal deleted.
type CascadeResult struct {
	Substitutions int `json:"substitutions_removed"`
	Balances      int `json:"balances_removed"`
}
