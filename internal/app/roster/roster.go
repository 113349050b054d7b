// Package roster is the application service for the substitution ledger.
//
// Every operation runs as one Store transaction:
//  1. Validate input before touching storage
//  2. Read the trainers and the pair's balance
//  3. Decide the new state with the domain ledger
//  4. Write the record and the balance together
//
// A storage failure re-runs the whole transaction (re-read, re-decide,
// re-write), never a half-applied step.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/observability"
)

// Config controls retry behavior.
type Config struct {
	MaxAttempts int           // Attempts per operation including the first (default: 5)
	RetryBase   time.Duration // First backoff ceiling (default: 25ms)
	RetryMax    time.Duration // Backoff cap (default: 1s)
}

// DefaultConfig returns safe service defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		RetryBase:   25 * time.Millisecond,
		RetryMax:    time.Second,
	}
}

// Service orchestrates trainers, substitutions and balances over a Store.
type Service struct {
	cfg   Config
	store domain.Store
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// New creates a roster service. A nil logger disables logging.
func New(cfg Config, store domain.Store, logger *zap.Logger) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		log:   logger.Named("roster"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// SubstitutionResult is a substitution change together with the pair's
// balance after it. Balance is nil when the pair ends up even.
type SubstitutionResult struct {
	Substitution domain.Substitution `json:"substitution"`
	Balance      *domain.Balance     `json:"balance"`
	Outcome      domain.Outcome      `json:"outcome"`
}

// PairBalance is the debt between two trainers seen from the first one.
// Net > 0 means A owes B Net days; Net < 0 means B owes A.
type PairBalance struct {
	A       domain.TrainerID `json:"a"`
	B       domain.TrainerID `json:"b"`
	Net     int              `json:"net"`
	Balance *domain.Balance  `json:"balance"`
}

// ImportResult reports a bulk trainer import.
type ImportResult struct {
	Added   []domain.Trainer `json:"added"`
	Skipped []string         `json:"skipped"`
}

// ═══════════════════════════════════════════════════════════════════════════
// Trainers
// ═══════════════════════════════════════════════════════════════════════════

// AddTrainer registers a trainer.
func (s *Service) AddTrainer(ctx context.Context, name string) (domain.Trainer, error) {
	name, err := domain.NormalizeName(name)
	if err != nil {
		return domain.Trainer{}, err
	}

	var tr domain.Trainer
	err = s.run(ctx, "add_trainer", func(tx domain.Tx) error {
		now := s.now()
		tr = domain.Trainer{ID: domain.TrainerID(s.newID()), Name: name, CreatedAt: now, UpdatedAt: now}
		return tx.CreateTrainer(ctx, tr)
	})
	if err != nil {
		return domain.Trainer{}, err
	}
	s.log.Info("trainer added", zap.String("trainer", string(tr.ID)), zap.String("name", tr.Name))
	return tr, nil
}

// RenameTrainer changes a trainer's display name.
func (s *Service) RenameTrainer(ctx context.Context, id domain.TrainerID, name string) (domain.Trainer, error) {
	if id == "" {
		return domain.Trainer{}, domain.ErrMissingID
	}
	name, err := domain.NormalizeName(name)
	if err != nil {
		return domain.Trainer{}, err
	}

	var tr domain.Trainer
	err = s.run(ctx, "rename_trainer", func(tx domain.Tx) error {
		cur, err := tx.GetTrainer(ctx, id)
		if err != nil {
			return err
		}
		tr = *cur
		tr.Name = name
		tr.UpdatedAt = s.now()
		return tx.UpdateTrainer(ctx, tr)
	})
	if err != nil {
		return domain.Trainer{}, err
	}
	return tr, nil
}

// RemoveTrainer deletes a trainer with every substitution and balance that
// references it, in either role.
func (s *Service) RemoveTrainer(ctx context.Context, id domain.TrainerID) (domain.CascadeResult, error) {
	if id == "" {
		return domain.CascadeResult{}, domain.ErrMissingID
	}

	var res domain.CascadeResult
	err := s.run(ctx, "remove_trainer", func(tx domain.Tx) error {
		if _, err := tx.GetTrainer(ctx, id); err != nil {
			return err
		}
		var err error
		if res.Substitutions, err = tx.DeleteSubstitutionsFor(ctx, id); err != nil {
			return err
		}
		if res.Balances, err = tx.DeleteBalancesFor(ctx, id); err != nil {
			return err
		}
		return tx.DeleteTrainer(ctx, id)
	})
	if err != nil {
		return domain.CascadeResult{}, err
	}

	observability.TrainersRemoved.Inc()
	s.log.Info("trainer removed",
		zap.String("trainer", string(id)),
		zap.Int("substitutions", res.Substitutions),
		zap.Int("balances", res.Balances),
	)
	return res, nil
}

// GetTrainer returns one trainer.
func (s *Service) GetTrainer(ctx context.Context, id domain.TrainerID) (domain.Trainer, error) {
	if id == "" {
		return domain.Trainer{}, domain.ErrMissingID
	}
	var tr domain.Trainer
	err := s.run(ctx, "get_trainer", func(tx domain.Tx) error {
		cur, err := tx.GetTrainer(ctx, id)
		if err != nil {
			return err
		}
		tr = *cur
		return nil
	})
	return tr, err
}

// ListTrainers returns all trainers ordered by name.
func (s *Service) ListTrainers(ctx context.Context) ([]domain.Trainer, error) {
	var out []domain.Trainer
	err := s.run(ctx, "list_trainers", func(tx domain.Tx) error {
		var err error
		out, err = tx.ListTrainers(ctx)
		return err
	})
	return out, err
}

// ResolveTrainer finds a trainer by id, or else by case-insensitive name.
// A name shared by several trainers is rejected as ambiguous.
func (s *Service) ResolveTrainer(ctx context.Context, ref string) (domain.Trainer, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Trainer{}, domain.ErrMissingID
	}
	var tr domain.Trainer
	err := s.run(ctx, "resolve_trainer", func(tx domain.Tx) error {
		cur, err := tx.GetTrainer(ctx, domain.TrainerID(ref))
		if err == nil {
			tr = *cur
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		all, err := tx.ListTrainers(ctx)
		if err != nil {
			return err
		}
		var matches []domain.Trainer
		for _, t := range all {
			if strings.EqualFold(t.Name, ref) {
				matches = append(matches, t)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Errorf("%w: %q", domain.ErrTrainerNotFound, ref)
		case 1:
			tr = matches[0]
			return nil
		default:
			return fmt.Errorf("%w: %d trainers are named %q, use an id", domain.ErrInvalidInput, len(matches), ref)
		}
	})
	return tr, err
}

// ImportTrainers adds every name not already on the roster. Names are
// compared case-insensitively, against existing trainers and each other.
func (s *Service) ImportTrainers(ctx context.Context, names []string) (ImportResult, error) {
	clean := make([]string, 0, len(names))
	for i, n := range names {
		n, err := domain.NormalizeName(n)
		if err != nil {
			return ImportResult{}, fmt.Errorf("entry %d: %w", i+1, err)
		}
		clean = append(clean, n)
	}

	var res ImportResult
	err := s.run(ctx, "import_trainers", func(tx domain.Tx) error {
		res = ImportResult{}
		existing, err := tx.ListTrainers(ctx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(existing)+len(clean))
		for _, t := range existing {
			seen[strings.ToLower(t.Name)] = true
		}
		now := s.now()
		for _, name := range clean {
			key := strings.ToLower(name)
			if seen[key] {
				res.Skipped = append(res.Skipped, name)
				continue
			}
			seen[key] = true
			tr := domain.Trainer{ID: domain.TrainerID(s.newID()), Name: name, CreatedAt: now, UpdatedAt: now}
			if err := tx.CreateTrainer(ctx, tr); err != nil {
				return err
			}
			res.Added = append(res.Added, tr)
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.log.Info("trainers imported", zap.Int("added", len(res.Added)), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Substitutions
// ═══════════════════════════════════════════════════════════════════════════

// AddSubstitution records that substitute covered for absent on date and
// applies it to the pair's balance in the same transaction.
func (s *Service) AddSubstitution(ctx context.Context, absent, substitute domain.TrainerID, date time.Time, notes string) (SubstitutionResult, error) {
	if absent == "" || substitute == "" {
		return SubstitutionResult{}, domain.ErrMissingID
	}
	if absent == substitute {
		return SubstitutionResult{}, domain.ErrSameTrainer
	}
	if date.IsZero() {
		return SubstitutionResult{}, domain.ErrMissingDate
	}
	notes = strings.TrimSpace(notes)

	var res SubstitutionResult
	err := s.run(ctx, "add_substitution", func(tx domain.Tx) error {
		for _, id := range []domain.TrainerID{absent, substitute} {
			if _, err := tx.GetTrainer(ctx, id); err != nil {
				return fmt.Errorf("%w: %s", err, id)
			}
		}

		now := s.now()
		sub := domain.Substitution{
			ID:                domain.SubstitutionID(s.newID()),
			Date:              domain.DateOnly(date),
			AbsentTrainer:     absent,
			SubstituteTrainer: substitute,
			Notes:             notes,
			CreatedAt:         now,
		}
		if err := tx.InsertSubstitution(ctx, sub); err != nil {
			return err
		}

		cur, err := tx.GetBalance(ctx, sub.Pair())
		if err != nil {
			return err
		}
		step := domain.ApplySubstitution(cur, absent, substitute, now)
		if err := tx.PutBalance(ctx, step.Pair, step.After); err != nil {
			return err
		}
		res = SubstitutionResult{Substitution: sub, Balance: step.After, Outcome: step.Outcome}
		return nil
	})
	if err != nil {
		return SubstitutionResult{}, err
	}

	observability.SubstitutionsRecorded.Inc()
	observability.BalanceTransitions.WithLabelValues("apply", string(res.Outcome)).Inc()
	s.log.Info("substitution recorded",
		zap.String("substitution", string(res.Substitution.ID)),
		zap.String("absent", string(absent)),
		zap.String("substitute", string(substitute)),
		zap.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

// RemoveSubstitution deletes a substitution and reverts its balance effect.
func (s *Service) RemoveSubstitution(ctx context.Context, id domain.SubstitutionID) (SubstitutionResult, error) {
	if id == "" {
		return SubstitutionResult{}, fmt.Errorf("%w: substitution id is required", domain.ErrInvalidInput)
	}

	var res SubstitutionResult
	err := s.run(ctx, "remove_substitution", func(tx domain.Tx) error {
		sub, err := tx.GetSubstitution(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteSubstitution(ctx, id); err != nil {
			return err
		}
		cur, err := tx.GetBalance(ctx, sub.Pair())
		if err != nil {
			return err
		}
		step := domain.RevertSubstitution(cur, sub.AbsentTrainer, sub.SubstituteTrainer, s.now())
		if err := tx.PutBalance(ctx, step.Pair, step.After); err != nil {
			return err
		}
		res = SubstitutionResult{Substitution: *sub, Balance: step.After, Outcome: step.Outcome}
		return nil
	})
	if err != nil {
		return SubstitutionResult{}, err
	}

	observability.SubstitutionsReverted.Inc()
	observability.BalanceTransitions.WithLabelValues("revert", string(res.Outcome)).Inc()
	s.log.Info("substitution removed",
		zap.String("substitution", string(id)),
		zap.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

// ListSubstitutions returns matching substitutions, newest first.
func (s *Service) ListSubstitutions(ctx context.Context, f domain.SubstitutionFilter) ([]domain.Substitution, error) {
	if !f.From.IsZero() {
		f.From = domain.DateOnly(f.From)
	}
	if !f.To.IsZero() {
		f.To = domain.DateOnly(f.To)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, domain.ErrInvalidRange
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))

	var out []domain.Substitution
	err := s.run(ctx, "list_substitutions", func(tx domain.Tx) error {
		subs, err := tx.ListSubstitutions(ctx, f)
		if err != nil {
			return err
		}
		if query == "" {
			out = subs
			return nil
		}

		trainers, err := tx.ListTrainers(ctx)
		if err != nil {
			return err
		}
		names := make(map[domain.TrainerID]string, len(trainers))
		for _, t := range trainers {
			names[t.ID] = strings.ToLower(t.Name)
		}
		out = subs[:0]
		for _, sub := range subs {
			if strings.Contains(strings.ToLower(sub.Notes), query) ||
				strings.Contains(sub.Date.Format(time.DateOnly), query) ||
				strings.Contains(names[sub.AbsentTrainer], query) ||
				strings.Contains(names[sub.SubstituteTrainer], query) {
				out = append(out, sub)
			}
		}
		return nil
	})
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Balances
// ═══════════════════════════════════════════════════════════════════════════

// ListBalances returns nonzero balances, largest debt first. A non-empty
// trainer limits the list to balances involving that trainer.
func (s *Service) ListBalances(ctx context.Context, trainer domain.TrainerID) ([]domain.Balance, error) {
	var out []domain.Balance
	err := s.run(ctx, "list_balances", func(tx domain.Tx) error {
		if trainer != "" {
			if _, err := tx.GetTrainer(ctx, trainer); err != nil {
				return err
			}
		}
		var err error
		out, err = tx.ListBalances(ctx, trainer)
		return err
	})
	return out, err
}

// BalanceBetween returns the signed debt between a and b.
func (s *Service) BalanceBetween(ctx context.Context, a, b domain.TrainerID) (PairBalance, error) {
	if a == "" || b == "" {
		return PairBalance{}, domain.ErrMissingID
	}
	if a == b {
		return PairBalance{}, domain.ErrSameTrainer
	}

	res := PairBalance{A: a, B: b}
	err := s.run(ctx, "balance_between", func(tx domain.Tx) error {
		for _, id := range []domain.TrainerID{a, b} {
			if _, err := tx.GetTrainer(ctx, id); err != nil {
				return fmt.Errorf("%w: %s", err, id)
			}
		}
		bal, err := tx.GetBalance(ctx, domain.NewPairKey(a, b))
		if err != nil {
			return err
		}
		res.Balance = bal
		res.Net = domain.NetBalance(bal, a, b)
		return nil
	})
	if err != nil {
		return PairBalance{}, err
	}
	return res, nil
}

// Summary is the roster at a glance.
type Summary struct {
	Trainers        int `json:"trainers"`
	Substitutions   int `json:"substitutions"`
	ActiveBalances  int `json:"active_balances"`
	DaysOutstanding int `json:"days_outstanding"`
}

// Summary counts trainers, substitutions and open balances in one snapshot.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.run(ctx, "summary", func(tx domain.Tx) error {
		sum = Summary{}
		trainers, err := tx.ListTrainers(ctx)
		if err != nil {
			return err
		}
		subs, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{})
		if err != nil {
			return err
		}
		bals, err := tx.ListBalances(ctx, "")
		if err != nil {
			return err
		}
		sum.Trainers = len(trainers)
		sum.Substitutions = len(subs)
		sum.ActiveBalances = len(bals)
		for _, b := range bals {
			sum.DaysOutstanding += b.DaysOwed
		}
		return nil
	})
	return sum, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Retry
// ═══════════════════════════════════════════════════════════════════════════

// run executes fn in a transaction, retrying storage failures with
// exponential backoff and full jitter. Any other error stops at once.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Tx) error) (err error) {
	start := time.Now()
	defer func() { observability.ObserveOperation(op, start, err) }()

	attempts := 0
	var lastErr error
	attempt := func() error {
		attempts++
		lastErr = s.store.WithTx(ctx, fn)
		if lastErr != nil && !errors.Is(lastErr, domain.ErrStorage) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, delay time.Duration) {
		observability.StorageRetries.WithLabelValues(op).Inc()
		s.log.Warn("retrying after storage failure",
			zap.String("operation", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err = backoff.RetryNotify(attempt, s.newBackOff(ctx), notify)
	if err == nil {
		return nil
	}
	// A canceled wait reports the context error; the caller wants the storage cause.
	if errors.Is(lastErr, domain.ErrStorage) {
		err = lastErr
		s.log.Error("storage operation failed",
			zap.String("operation", op),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return err
}

// newBackOff builds the retry schedule: at most MaxAttempts tries, each wait
// drawn uniformly from [0, min(RetryMax, RetryBase*2^(n-1))].
func (s *Service) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	// A randomization factor of 1 spreads each wait over [0, 2*interval].
	eb.InitialInterval = s.cfg.RetryBase / 2
	eb.MaxInterval = s.cfg.RetryMax / 2
	eb.Multiplier = 2
	eb.RandomizationFactor = 1
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.MaxAttempts-1)), ctx)
}
