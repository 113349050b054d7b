package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// ─── PairKey Tests ──────────────────────────────────────────────────────────

func TestNewPairKey(t *testing.T) {
	tests := []struct {
		name string
		a, b TrainerID
		want PairKey
	}{
		{name: "already ordered", a: "alice", b: "bob", want: PairKey{Low: "alice", High: "bob"}},
		{name: "reversed", a: "bob", b: "alice", want: PairKey{Low: "alice", High: "bob"}},
		{name: "uuid-like", a: "f0", b: "0f", want: PairKey{Low: "0f", High: "f0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPairKey(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("NewPairKey(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestPairKey_Other(t *testing.T) {
	k := NewPairKey("a", "b")
	if k.Other("a") != "b" {
		t.Errorf("Other(a) = %q, want b", k.Other("a"))
	}
	if k.Other("b") != "a" {
		t.Errorf("Other(b) = %q, want a", k.Other("b"))
	}
}

func TestBalance_PairIsDirectionless(t *testing.T) {
	ab := Balance{Debtor: "a", Creditor: "b", DaysOwed: 1}
	ba := Balance{Debtor: "b", Creditor: "a", DaysOwed: 3}
	if ab.Pair() != ba.Pair() {
		t.Errorf("Pair() differs by direction: %v vs %v", ab.Pair(), ba.Pair())
	}
}

// ─── Name / Filter Tests ────────────────────────────────────────────────────

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "  Dana ", want: "Dana"},
		{in: "Lee", want: "Lee"},
		{in: "   ", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := NormalizeName(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("NormalizeName(%q) error = %v, want ErrInvalidInput", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeName(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSubstitutionFilter_MatchDate(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	f := SubstitutionFilter{From: day(5), To: day(10)}

	if f.MatchDate(day(4)) {
		t.Error("day 4 should be before range")
	}
	if !f.MatchDate(day(5)) || !f.MatchDate(day(10)) {
		t.Error("range bounds should be inclusive")
	}
	if f.MatchDate(day(11)) {
		t.Error("day 11 should be after range")
	}
	if !(SubstitutionFilter{}).MatchDate(day(1)) {
		t.Error("empty filter should match everything")
	}

	afternoon := SubstitutionFilter{From: day(5).Add(15 * time.Hour), To: day(5).Add(time.Hour)}
	if !afternoon.MatchDate(day(5)) {
		t.Error("bounds with a time of day should cover the whole day")
	}
}

func TestDateOnly(t *testing.T) {
	in := time.Date(2026, 5, 7, 23, 59, 1, 5, time.UTC)
	got := DateOnly(in)
	want := time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOnly() = %v, want %v", got, want)
	}
}

// ─── Error Classification Tests ─────────────────────────────────────────────

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrSameTrainer, "invalid_input"},
		{ErrEmptyName, "invalid_input"},
		{ErrTrainerNotFound, "not_found"},
		{fmt.Errorf("remove: %w", ErrSubstitutionNotFound), "not_found"},
		{&StorageError{Op: "put balance", Err: errors.New("disk full")}, "storage"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWrapStorage(t *testing.T) {
	cause := errors.New("database is locked")

	err := WrapStorage("get balance", cause)
	if !errors.Is(err, ErrStorage) {
		t.Errorf("WrapStorage() should wrap ErrStorage, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("WrapStorage() should keep the cause, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "get balance" {
		t.Errorf("errors.As(*StorageError) failed or wrong op: %v", err)
	}

	if got := WrapStorage("x", ErrTrainerNotFound); got != ErrTrainerNotFound {
		t.Errorf("WrapStorage() should pass classified errors through, got %v", got)
	}
	if WrapStorage("x", nil) != nil {
		t.Error("WrapStorage(nil) should be nil")
	}
}
