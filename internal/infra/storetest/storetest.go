// Package storetest is the conformance suite every domain.Store adapter runs.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymsub/gymsub/internal/domain"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) domain.Store

var (
	base = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	day  = func(n int) time.Time { return domain.DateOnly(base.AddDate(0, 0, n)) }
)

// Run executes every conformance case against stores from open.
func Run(t *testing.T, open Opener) {
	t.Run("Trainers", func(t *testing.T) { testTrainers(t, open(t)) })
	t.Run("Substitutions", func(t *testing.T) { testSubstitutions(t, open(t)) })
	t.Run("SubstitutionFilter", func(t *testing.T) { testSubstitutionFilter(t, open(t)) })
	t.Run("BalancePerPair", func(t *testing.T) { testBalancePerPair(t, open(t)) })
	t.Run("ListBalances", func(t *testing.T) { testListBalances(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Cascade", func(t *testing.T) { testCascade(t, open(t)) })
	t.Run("LedgerRoundTrip", func(t *testing.T) { testLedgerRoundTrip(t, open(t)) })
}

func withTx(t *testing.T, s domain.Store, fn func(ctx context.Context, tx domain.Tx)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func seedTrainers(t *testing.T, s domain.Store, names ...string) []domain.TrainerID {
	t.Helper()
	ids := make([]domain.TrainerID, len(names))
	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		for i, n := range names {
			ids[i] = domain.TrainerID("t-" + n)
			require.NoError(t, tx.CreateTrainer(ctx, domain.Trainer{
				ID: ids[i], Name: n, CreatedAt: base, UpdatedAt: base,
			}))
		}
	})
	return ids
}

func sub(id string, date time.Time, absent, substitute domain.TrainerID, notes string) domain.Substitution {
	return domain.Substitution{
		ID:                domain.SubstitutionID(id),
		Date:              date,
		AbsentTrainer:     absent,
		SubstituteTrainer: substitute,
		Notes:             notes,
		CreatedAt:         base,
	}
}

// ─── Trainers ───────────────────────────────────────────────────────────────

func testTrainers(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Mira", "Ada", "Zed")

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		got, err := tx.GetTrainer(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "Mira", got.Name)
		assert.True(t, base.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)

		list, err := tx.ListTrainers(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"Ada", "Mira", "Zed"}, []string{list[0].Name, list[1].Name, list[2].Name})

		renamed := *got
		renamed.Name = "Mira K."
		renamed.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, tx.UpdateTrainer(ctx, renamed))
		got, err = tx.GetTrainer(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "Mira K.", got.Name)

		require.NoError(t, tx.DeleteTrainer(ctx, ids[2]))
		_, err = tx.GetTrainer(ctx, ids[2])
		assert.ErrorIs(t, err, domain.ErrTrainerNotFound)
		assert.ErrorIs(t, tx.DeleteTrainer(ctx, ids[2]), domain.ErrTrainerNotFound)
		assert.ErrorIs(t, tx.UpdateTrainer(ctx, domain.Trainer{ID: "t-ghost", Name: "x"}), domain.ErrTrainerNotFound)
	})
}

// ─── Substitutions ──────────────────────────────────────────────────────────

func testSubstitutions(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo")

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s1", day(0), ids[0], ids[1], "spin class")))
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s2", day(3), ids[1], ids[0], "")))

		got, err := tx.GetSubstitution(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, ids[0], got.AbsentTrainer)
		assert.Equal(t, ids[1], got.SubstituteTrainer)
		assert.Equal(t, "spin class", got.Notes)
		assert.True(t, day(0).Equal(got.Date), "date %v", got.Date)

		list, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, domain.SubstitutionID("s2"), list[0].ID, "newest first")

		require.NoError(t, tx.DeleteSubstitution(ctx, "s1"))
		_, err = tx.GetSubstitution(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSubstitutionNotFound)
		assert.ErrorIs(t, tx.DeleteSubstitution(ctx, "s1"), domain.ErrSubstitutionNotFound)
	})
}

func testSubstitutionFilter(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo", "Cy")

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s1", day(0), ids[0], ids[1], "")))
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s2", day(5), ids[1], ids[2], "")))
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s3", day(10), ids[2], ids[0], "")))

		byTrainer, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{Trainer: ids[0]})
		require.NoError(t, err)
		assert.Len(t, byTrainer, 2)

		byRange, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{From: day(1), To: day(10)})
		require.NoError(t, err)
		require.Len(t, byRange, 2)
		assert.Equal(t, domain.SubstitutionID("s3"), byRange[0].ID)
		assert.Equal(t, domain.SubstitutionID("s2"), byRange[1].ID)

		both, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{Trainer: ids[1], To: day(4)})
		require.NoError(t, err)
		require.Len(t, both, 1)
		assert.Equal(t, domain.SubstitutionID("s1"), both[0].ID)

		sameDay, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{
			From: day(5).Add(15 * time.Hour),
			To:   day(5).Add(time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, sameDay, 1, "bounds are calendar days")
		assert.Equal(t, domain.SubstitutionID("s2"), sameDay[0].ID)
	})
}

// ─── Balances ───────────────────────────────────────────────────────────────

func testBalancePerPair(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo")
	a, b := ids[0], ids[1]

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		got, err := tx.GetBalance(ctx, domain.NewPairKey(a, b))
		require.NoError(t, err)
		assert.Nil(t, got, "even pair has no balance")

		require.NoError(t, tx.PutBalance(ctx, domain.NewPairKey(a, b),
			&domain.Balance{Debtor: a, Creditor: b, DaysOwed: 2, UpdatedAt: base}))

		// Either member ordering finds the same row.
		got, err = tx.GetBalance(ctx, domain.NewPairKey(b, a))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, a, got.Debtor)
		assert.Equal(t, b, got.Creditor)
		assert.Equal(t, 2, got.DaysOwed)

		// Flipping direction replaces, never adds a second row.
		require.NoError(t, tx.PutBalance(ctx, domain.NewPairKey(a, b),
			&domain.Balance{Debtor: b, Creditor: a, DaysOwed: 1, UpdatedAt: base}))
		all, err := tx.ListBalances(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, b, all[0].Debtor)

		require.NoError(t, tx.PutBalance(ctx, domain.NewPairKey(a, b), nil))
		got, err = tx.GetBalance(ctx, domain.NewPairKey(a, b))
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func testListBalances(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo", "Cy", "Di")

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		put := func(debtor, creditor domain.TrainerID, days int) {
			require.NoError(t, tx.PutBalance(ctx, domain.NewPairKey(debtor, creditor),
				&domain.Balance{Debtor: debtor, Creditor: creditor, DaysOwed: days, UpdatedAt: base}))
		}
		put(ids[0], ids[1], 1)
		put(ids[2], ids[0], 4)
		put(ids[2], ids[3], 2)

		all, err := tx.ListBalances(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int{4, 2, 1}, []int{all[0].DaysOwed, all[1].DaysOwed, all[2].DaysOwed})

		forAda, err := tx.ListBalances(ctx, ids[0])
		require.NoError(t, err)
		require.Len(t, forAda, 2)
		assert.Equal(t, 4, forAda[0].DaysOwed)
	})
}

// ─── Atomicity ──────────────────────────────────────────────────────────────

func testRollback(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo")
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(tx domain.Tx) error {
		ctx := context.Background()
		if err := tx.InsertSubstitution(ctx, sub("s1", day(0), ids[0], ids[1], "")); err != nil {
			return err
		}
		if err := tx.PutBalance(ctx, domain.NewPairKey(ids[0], ids[1]),
			&domain.Balance{Debtor: ids[0], Creditor: ids[1], DaysOwed: 1, UpdatedAt: base}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		_, err := tx.GetSubstitution(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSubstitutionNotFound)
		bal, err := tx.GetBalance(ctx, domain.NewPairKey(ids[0], ids[1]))
		require.NoError(t, err)
		assert.Nil(t, bal)
	})
}

func testCascade(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo", "Cy")
	ada, bo, cy := ids[0], ids[1], ids[2]

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s1", day(0), ada, bo, "")))
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s2", day(1), cy, ada, "")))
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s3", day(2), ada, cy, "")))
		require.NoError(t, tx.InsertSubstitution(ctx, sub("s4", day(3), bo, cy, "")))
		require.NoError(t, tx.PutBalance(ctx, domain.NewPairKey(ada, bo),
			&domain.Balance{Debtor: ada, Creditor: bo, DaysOwed: 1, UpdatedAt: base}))
		require.NoError(t, tx.PutBalance(ctx, domain.NewPairKey(bo, cy),
			&domain.Balance{Debtor: bo, Creditor: cy, DaysOwed: 1, UpdatedAt: base}))
	})

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		n, err := tx.DeleteSubstitutionsFor(ctx, ada)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		n, err = tx.DeleteBalancesFor(ctx, ada)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, tx.DeleteTrainer(ctx, ada))
	})

	withTx(t, s, func(ctx context.Context, tx domain.Tx) {
		left, err := tx.ListSubstitutions(ctx, domain.SubstitutionFilter{})
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, domain.SubstitutionID("s4"), left[0].ID)

		bals, err := tx.ListBalances(ctx, "")
		require.NoError(t, err)
		require.Len(t, bals, 1)
		assert.Equal(t, bo, bals[0].Debtor)
	})
}

// ─── Ledger through the store ───────────────────────────────────────────────

func testLedgerRoundTrip(t *testing.T, s domain.Store) {
	defer s.Close()
	ids := seedTrainers(t, s, "Ada", "Bo")
	a, b := ids[0], ids[1]
	pair := domain.NewPairKey(a, b)

	step := func(apply bool, absent, substitute domain.TrainerID) {
		withTx(t, s, func(ctx context.Context, tx domain.Tx) {
			cur, err := tx.GetBalance(ctx, pair)
			require.NoError(t, err)
			var st domain.Step
			if apply {
				st = domain.ApplySubstitution(cur, absent, substitute, base)
			} else {
				st = domain.RevertSubstitution(cur, absent, substitute, base)
			}
			require.NoError(t, tx.PutBalance(ctx, pair, st.After))
		})
	}
	net := func() int {
		var n int
		withTx(t, s, func(ctx context.Context, tx domain.Tx) {
			cur, err := tx.GetBalance(ctx, pair)
			require.NoError(t, err)
			n = domain.NetBalance(cur, a, b)
		})
		return n
	}

	step(true, a, b)
	assert.Equal(t, 1, net())
	step(true, a, b)
	assert.Equal(t, 2, net())
	step(true, b, a)
	assert.Equal(t, 1, net())
	step(true, b, a)
	assert.Equal(t, 0, net())
	step(false, a, b)
	assert.Equal(t, -1, net())
	step(false, b, a)
	assert.Equal(t, 0, net())
}
