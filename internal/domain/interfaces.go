package domain

import "context"

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Store is the persistence boundary. Every use case runs inside WithTx so the
// substitution record and its balance effect commit or fail together.
type Store interface {
	// WithTx runs fn in one atomic unit. If fn returns an error nothing it
	// wrote is kept. Backend failures are returned as *StorageError.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	TrainerStore
	SubstitutionStore
	BalanceStore
}

// TrainerStore persists trainer records.
type TrainerStore interface {
	CreateTrainer(ctx context.Context, t Trainer) error
	GetTrainer(ctx context.Context, id TrainerID) (*Trainer, error) // ErrTrainerNotFound if missing
	ListTrainers(ctx context.Context) ([]Trainer, error)             // ordered by name
	UpdateTrainer(ctx context.Context, t Trainer) error              // ErrTrainerNotFound if missing
	DeleteTrainer(ctx context.Context, id TrainerID) error           // ErrTrainerNotFound if missing
}

// SubstitutionStore persists substitution records.
type SubstitutionStore interface {
	InsertSubstitution(ctx context.Context, s Substitution) error
	GetSubstitution(ctx context.Context, id SubstitutionID) (*Substitution, error) // ErrSubstitutionNotFound if missing
	DeleteSubstitution(ctx context.Context, id SubstitutionID) error               // ErrSubstitutionNotFound if missing
	ListSubstitutions(ctx context.Context, f SubstitutionFilter) ([]Substitution, error) // newest first; Query is applied by the caller
	DeleteSubstitutionsFor(ctx context.Context, id TrainerID) (int, error)
}

// BalanceStore persists at most one directed balance per unordered pair.
type BalanceStore interface {
	// GetBalance returns the pair's balance, or nil if the pair is even.
	// The row is locked for the rest of the transaction where the backend supports it.
	GetBalance(ctx context.Context, pair PairKey) (*Balance, error)
	// PutBalance replaces the pair's balance; nil deletes it.
	PutBalance(ctx context.Context, pair PairKey, b *Balance) error
	// ListBalances returns balances, optionally only those involving trainer,
	// largest debt first.
	ListBalances(ctx context.Context, trainer TrainerID) ([]Balance, error)
	DeleteBalancesFor(ctx context.Context, id TrainerID) (int, error)
}
