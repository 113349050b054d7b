// Package memory provides an in-process Store. With a snapshot path it
// persists the whole state as JSON after every committed transaction, which
// makes it the single-user "local" variant of the ledger.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gymsub/gymsub/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store keeps trainers, substitutions and the ledger in memory. Transactions
// are serialized by a mutex and run against a copy of the state that replaces
// the live one only on success.
type Store struct {
	mu       sync.Mutex
	state    *state
	snapshot string
}

type state struct {
	trainers      map[domain.TrainerID]domain.Trainer
	substitutions map[domain.SubstitutionID]domain.Substitution
	ledger        *domain.Ledger
}

func newState() *state {
	return &state{
		trainers:      make(map[domain.TrainerID]domain.Trainer),
		substitutions: make(map[domain.SubstitutionID]domain.Substitution),
		ledger:        domain.NewLedger(),
	}
}

func (s *state) clone() *state {
	c := &state{
		trainers:      make(map[domain.TrainerID]domain.Trainer, len(s.trainers)),
		substitutions: make(map[domain.SubstitutionID]domain.Substitution, len(s.substitutions)),
		ledger:        domain.LedgerFromBalances(s.ledger.Balances()),
	}
	for k, v := range s.trainers {
		c.trainers[k] = v
	}
	for k, v := range s.substitutions {
		c.substitutions[k] = v
	}
	return c
}

// New creates an empty, non-persistent store.
func New() *Store {
	return &Store{state: newState()}
}

// Open creates a store backed by a JSON snapshot file, loading it if present.
func Open(path string) (*Store, error) {
	s := &Store{state: newState(), snapshot: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s.state = snap.toState()
	return s, nil
}

// WithTx runs fn against a private copy of the state and commits it on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if s.snapshot != "" {
		if err := writeSnapshot(s.snapshot, work); err != nil {
			return domain.WrapStorage("write snapshot", err)
		}
	}
	s.state = work
	return nil
}

// Close is a no-op; every commit is already on disk.
func (s *Store) Close() error { return nil }

// ─── Snapshot ───────────────────────────────────────────────────────────────

// Snapshot is the on-disk JSON form of the store.
type Snapshot struct {
	Trainers      []domain.Trainer      `json:"trainers"`
	Substitutions []domain.Substitution `json:"substitutions"`
	Balances      []domain.Balance      `json:"balances"`
}

func (snap Snapshot) toState() *state {
	st := newState()
	for _, t := range snap.Trainers {
		st.trainers[t.ID] = t
	}
	for _, sub := range snap.Substitutions {
		st.substitutions[sub.ID] = sub
	}
	st.ledger = domain.LedgerFromBalances(snap.Balances)
	return st
}

func writeSnapshot(path string, st *state) error {
	snap := Snapshot{
		Trainers:      make([]domain.Trainer, 0, len(st.trainers)),
		Substitutions: make([]domain.Substitution, 0, len(st.substitutions)),
		Balances:      st.ledger.Balances(),
	}
	for _, t := range st.trainers {
		snap.Trainers = append(snap.Trainers, t)
	}
	sortTrainers(snap.Trainers)
	for _, sub := range st.substitutions {
		snap.Substitutions = append(snap.Substitutions, sub)
	}
	sortSubstitutions(snap.Substitutions)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ─── Transaction ────────────────────────────────────────────────────────────

type tx struct {
	st *state
}

func (t *tx) CreateTrainer(_ context.Context, tr domain.Trainer) error {
	if _, ok := t.st.trainers[tr.ID]; ok {
		return fmt.Errorf("%w: trainer %s already exists", domain.ErrInvalidInput, tr.ID)
	}
	t.st.trainers[tr.ID] = tr
	return nil
}

func (t *tx) GetTrainer(_ context.Context, id domain.TrainerID) (*domain.Trainer, error) {
	tr, ok := t.st.trainers[id]
	if !ok {
		return nil, domain.ErrTrainerNotFound
	}
	return &tr, nil
}

func (t *tx) ListTrainers(_ context.Context) ([]domain.Trainer, error) {
	out := make([]domain.Trainer, 0, len(t.st.trainers))
	for _, tr := range t.st.trainers {
		out = append(out, tr)
	}
	sortTrainers(out)
	return out, nil
}

func (t *tx) UpdateTrainer(_ context.Context, tr domain.Trainer) error {
	if _, ok := t.st.trainers[tr.ID]; !ok {
		return domain.ErrTrainerNotFound
	}
	t.st.trainers[tr.ID] = tr
	return nil
}

func (t *tx) DeleteTrainer(_ context.Context, id domain.TrainerID) error {
	if _, ok := t.st.trainers[id]; !ok {
		return domain.ErrTrainerNotFound
	}
	delete(t.st.trainers, id)
	return nil
}

func (t *tx) InsertSubstitution(_ context.Context, sub domain.Substitution) error {
	if _, ok := t.st.substitutions[sub.ID]; ok {
		return fmt.Errorf("%w: substitution %s already exists", domain.ErrInvalidInput, sub.ID)
	}
	t.st.substitutions[sub.ID] = sub
	return nil
}

func (t *tx) GetSubstitution(_ context.Context, id domain.SubstitutionID) (*domain.Substitution, error) {
	sub, ok := t.st.substitutions[id]
	if !ok {
		return nil, domain.ErrSubstitutionNotFound
	}
	return &sub, nil
}

func (t *tx) DeleteSubstitution(_ context.Context, id domain.SubstitutionID) error {
	if _, ok := t.st.substitutions[id]; !ok {
		return domain.ErrSubstitutionNotFound
	}
	delete(t.st.substitutions, id)
	return nil
}

func (t *tx) ListSubstitutions(_ context.Context, f domain.SubstitutionFilter) ([]domain.Substitution, error) {
	var out []domain.Substitution
	for _, sub := range t.st.substitutions {
		if f.Trainer != "" && !sub.Involves(f.Trainer) {
			continue
		}
		if !f.MatchDate(sub.Date) {
			continue
		}
		out = append(out, sub)
	}
	sortSubstitutions(out)
	return out, nil
}

func (t *tx) DeleteSubstitutionsFor(_ context.Context, id domain.TrainerID) (int, error) {
	n := 0
	for k, sub := range t.st.substitutions {
		if sub.Involves(id) {
			delete(t.st.substitutions, k)
			n++
		}
	}
	return n, nil
}

func (t *tx) GetBalance(_ context.Context, pair domain.PairKey) (*domain.Balance, error) {
	return t.st.ledger.Get(pair.Low, pair.High), nil
}

func (t *tx) PutBalance(_ context.Context, pair domain.PairKey, b *domain.Balance) error {
	return t.st.ledger.Put(pair, b)
}

func (t *tx) ListBalances(_ context.Context, trainer domain.TrainerID) ([]domain.Balance, error) {
	all := t.st.ledger.Balances()
	if trainer == "" {
		return all, nil
	}
	out := make([]domain.Balance, 0, len(all))
	for _, b := range all {
		if b.Involves(trainer) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *tx) DeleteBalancesFor(_ context.Context, id domain.TrainerID) (int, error) {
	return t.st.ledger.RemoveTrainer(id), nil
}

// ─── Ordering ───────────────────────────────────────────────────────────────

func sortTrainers(ts []domain.Trainer) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Name != ts[j].Name {
			return ts[i].Name < ts[j].Name
		}
		return ts[i].ID < ts[j].ID
	})
}

func sortSubstitutions(subs []domain.Substitution) {
	sort.SliceStable(subs, func(i, j int) bool {
		if !subs[i].Date.Equal(subs[j].Date) {
			return subs[i].Date.After(subs[j].Date)
		}
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID > subs[j].ID
	})
}
