package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymsub/gymsub/internal/domain"
	"github.com/gymsub/gymsub/internal/infra/memory"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store domain.Store) *Service {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	cfg := DefaultConfig()
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = 2 * time.Millisecond
	svc := New(cfg, store, nil)

	var mu sync.Mutex
	n := 0
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return svc
}

func addTrainers(t *testing.T, svc *Service, names ...string) []domain.TrainerID {
	t.Helper()
	ids := make([]domain.TrainerID, 0, len(names))
	for _, n := range names {
		tr, err := svc.AddTrainer(context.Background(), n)
		require.NoError(t, err)
		ids = append(ids, tr.ID)
	}
	return ids
}

// flakyStore fails the first failures transactions with a storage error.
type flakyStore struct {
	domain.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(domain.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return &domain.StorageError{Op: "commit", Err: errors.New("serialization failure")}
	}
	return f.Store.WithTx(ctx, fn)
}

// ─── Trainers ───────────────────────────────────────────────────────────────

func TestAddTrainer(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	tr, err := svc.AddTrainer(ctx, "  Ada  ")
	require.NoError(t, err)
	assert.Equal(t, "Ada", tr.Name)
	assert.NotEmpty(t, tr.ID)

	got, err := svc.GetTrainer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Name, got.Name)

	_, err = svc.AddTrainer(ctx, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRenameTrainer(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "Ada")

	tr, err := svc.RenameTrainer(ctx, ids[0], "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", tr.Name)

	_, err = svc.RenameTrainer(ctx, "missing", "X")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RenameTrainer(ctx, ids[0], "")
	assert.ErrorIs(t, err, domain.ErrEmptyName)
}

func TestResolveTrainer(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "Ada", "Bo", "bo")

	byID, err := svc.ResolveTrainer(ctx, string(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, "Ada", byID.Name)

	byName, err := svc.ResolveTrainer(ctx, "ADA")
	require.NoError(t, err)
	assert.Equal(t, ids[0], byName.ID)

	_, err = svc.ResolveTrainer(ctx, "Bo")
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "two trainers share the name")

	_, err = svc.ResolveTrainer(ctx, "Nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImportTrainers(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	addTrainers(t, svc, "Ada")

	res, err := svc.ImportTrainers(ctx, []string{"ada", "Bo", " Cy ", "BO"})
	require.NoError(t, err)
	assert.Len(t, res.Added, 2)
	assert.Equal(t, []string{"ada", "BO"}, res.Skipped)

	all, err := svc.ListTrainers(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, tr := range all {
		names = append(names, tr.Name)
	}
	assert.Equal(t, []string{"Ada", "Bo", "Cy"}, names)

	_, err = svc.ImportTrainers(ctx, []string{"Di", ""})
	assert.ErrorIs(t, err, domain.ErrEmptyName)
}

// A trainer in three substitutions and two balances disappears together
// with all of them; unrelated records stay.
func TestRemoveTrainer_Cascade(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B", "C", "D")
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	for _, s := range [][2]domain.TrainerID{{a, b}, {c, a}, {a, b}, {c, d}} {
		_, err := svc.AddSubstitution(ctx, s[0], s[1], day, "")
		require.NoError(t, err)
	}

	res, err := svc.RemoveTrainer(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.CascadeResult{Substitutions: 3, Balances: 2}, res)

	subs, err := svc.ListSubstitutions(ctx, domain.SubstitutionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Involves(a))

	bals, err := svc.ListBalances(ctx, "")
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, c, bals[0].Debtor)

	_, err = svc.GetTrainer(ctx, a)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RemoveTrainer(ctx, a)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Substitutions ──────────────────────────────────────────────────────────

func TestAddSubstitution_Validation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B")

	tests := []struct {
		name       string
		absent     domain.TrainerID
		substitute domain.TrainerID
		date       time.Time
		want       error
	}{
		{"same trainer", ids[0], ids[0], day, domain.ErrSameTrainer},
		{"missing absent", "", ids[1], day, domain.ErrMissingID},
		{"missing date", ids[0], ids[1], time.Time{}, domain.ErrMissingDate},
		{"unknown trainer", ids[0], "ghost", day, domain.ErrTrainerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddSubstitution(ctx, tt.absent, tt.substitute, tt.date, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	subs, err := svc.ListSubstitutions(ctx, domain.SubstitutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs, "rejected substitutions must not be stored")
	bals, err := svc.ListBalances(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, bals)
}

func TestAddSubstitution_Scenarios(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B")
	a, b := ids[0], ids[1]

	res, err := svc.AddSubstitution(ctx, a, b, day.Add(15*time.Hour), "  covered spin  ")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.Equal(t, "covered spin", res.Substitution.Notes)
	assert.Equal(t, day, res.Substitution.Date, "date is truncated to the day")
	require.NotNil(t, res.Balance)
	assert.Equal(t, domain.Balance{Debtor: a, Creditor: b, DaysOwed: 1, UpdatedAt: res.Balance.UpdatedAt}, *res.Balance)

	res, err = svc.AddSubstitution(ctx, a, b, day, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIncreased, res.Outcome)
	assert.Equal(t, 2, res.Balance.DaysOwed)

	res, err = svc.AddSubstitution(ctx, b, a, day, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReduced, res.Outcome)
	assert.Equal(t, 1, res.Balance.DaysOwed)

	res, err = svc.AddSubstitution(ctx, b, a, day, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)
	assert.Nil(t, res.Balance)

	pb, err := svc.BalanceBetween(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 0, pb.Net)
	assert.Nil(t, pb.Balance)
}

func TestRemoveSubstitution(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B")
	a, b := ids[0], ids[1]

	first, err := svc.AddSubstitution(ctx, a, b, day, "")
	require.NoError(t, err)
	_, err = svc.AddSubstitution(ctx, b, a, day, "")
	require.NoError(t, err)

	// Pair is even; removing A->B leaves B owing A one day.
	res, err := svc.RemoveSubstitution(ctx, first.Substitution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Balance)
	assert.Equal(t, b, res.Balance.Debtor)
	assert.Equal(t, 1, res.Balance.DaysOwed)

	_, err = svc.RemoveSubstitution(ctx, first.Substitution.ID)
	assert.ErrorIs(t, err, domain.ErrSubstitutionNotFound)

	_, err = svc.RemoveSubstitution(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAddThenRemove_RestoresBalances(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B", "C")

	var added []domain.SubstitutionID
	pairs := [][2]int{{0, 1}, {1, 2}, {2, 0}, {1, 0}, {0, 1}, {0, 2}}
	for _, p := range pairs {
		res, err := svc.AddSubstitution(ctx, ids[p[0]], ids[p[1]], day, "")
		require.NoError(t, err)
		added = append(added, res.Substitution.ID)
	}
	for i := len(added) - 1; i >= 0; i-- {
		_, err := svc.RemoveSubstitution(ctx, added[i])
		require.NoError(t, err)
	}

	bals, err := svc.ListBalances(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, bals)
}

func TestListSubstitutions_Filter(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "Ada", "Bo", "Mira")
	ada, bo, mira := ids[0], ids[1], ids[2]

	_, err := svc.AddSubstitution(ctx, ada, bo, day, "morning yoga")
	require.NoError(t, err)
	_, err = svc.AddSubstitution(ctx, bo, mira, day.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	_, err = svc.AddSubstitution(ctx, mira, ada, day.AddDate(0, 0, 2), "HIIT")
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter domain.SubstitutionFilter
		want   int
	}{
		{"all", domain.SubstitutionFilter{}, 3},
		{"by trainer either role", domain.SubstitutionFilter{Trainer: ada}, 2},
		{"from", domain.SubstitutionFilter{From: day.AddDate(0, 0, 1)}, 2},
		{"range", domain.SubstitutionFilter{From: day, To: day}, 1},
		{"range with time of day", domain.SubstitutionFilter{From: day.Add(15 * time.Hour), To: day.Add(15 * time.Hour)}, 1},
		{"query notes", domain.SubstitutionFilter{Query: "YOGA"}, 1},
		{"query trainer name", domain.SubstitutionFilter{Query: "mir"}, 2},
		{"query and trainer", domain.SubstitutionFilter{Trainer: bo, Query: "yoga"}, 1},
		{"query date", domain.SubstitutionFilter{Query: "2026-03-03"}, 1},
		{"query month", domain.SubstitutionFilter{Query: "2026-03"}, 3},
		{"no match", domain.SubstitutionFilter{Query: "pilates"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListSubstitutions(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	all, err := svc.ListSubstitutions(ctx, domain.SubstitutionFilter{})
	require.NoError(t, err)
	assert.Equal(t, mira, all[0].AbsentTrainer, "newest first")

	_, err = svc.ListSubstitutions(ctx, domain.SubstitutionFilter{From: day, To: day.AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

// ─── Summary ────────────────────────────────────────────────────────────────

func TestSummary(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)

	ids := addTrainers(t, svc, "A", "B", "C")
	for _, pair := range [][2]int{{0, 1}, {0, 1}, {2, 0}, {1, 2}, {2, 1}} {
		_, err := svc.AddSubstitution(ctx, ids[pair[0]], ids[pair[1]], day, "")
		require.NoError(t, err)
	}

	sum, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Trainers: 3, Substitutions: 5, ActiveBalances: 2, DaysOutstanding: 3}, sum)
}

// ─── Balances ───────────────────────────────────────────────────────────────

func TestBalances(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B", "C")
	a, b, c := ids[0], ids[1], ids[2]

	for _, s := range [][2]domain.TrainerID{{a, b}, {a, b}, {c, b}} {
		_, err := svc.AddSubstitution(ctx, s[0], s[1], day, "")
		require.NoError(t, err)
	}

	all, err := svc.ListBalances(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].DaysOwed, "largest debt first")

	forC, err := svc.ListBalances(ctx, c)
	require.NoError(t, err)
	require.Len(t, forC, 1)
	assert.Equal(t, b, forC[0].Creditor)

	_, err = svc.ListBalances(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ab, err := svc.BalanceBetween(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, ab.Net)
	ba, err := svc.BalanceBetween(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, -2, ba.Net)
	ac, err := svc.BalanceBetween(ctx, a, c)
	require.NoError(t, err)
	assert.Zero(t, ac.Net)

	_, err = svc.BalanceBetween(ctx, a, a)
	assert.ErrorIs(t, err, domain.ErrSameTrainer)
}

// ─── Retry ──────────────────────────────────────────────────────────────────

func TestRetry_RecoversFromStorageFailure(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	svc := newTestService(t, store)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B")

	store.mu.Lock()
	store.failures = store.calls + 2
	store.mu.Unlock()

	res, err := svc.AddSubstitution(ctx, ids[0], ids[1], day, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Balance.DaysOwed)

	subs, err := svc.ListSubstitutions(ctx, domain.SubstitutionFilter{})
	require.NoError(t, err)
	assert.Len(t, subs, 1, "the retried operation must apply once")
}

func TestRetry_GivesUp(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 1 << 30}
	svc := newTestService(t, store)

	_, err := svc.AddTrainer(context.Background(), "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, "storage", domain.Kind(err))
	assert.Equal(t, svc.cfg.MaxAttempts, store.calls)
}

func TestRetry_DoesNotRetryInputErrors(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	svc := newTestService(t, store)

	_, err := svc.RemoveSubstitution(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, store.calls)
}

func TestRetry_StopsOnCanceledContext(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 1 << 30}
	svc := newTestService(t, store)
	svc.cfg.RetryBase = time.Hour
	svc.cfg.RetryMax = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.AddTrainer(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestBackOff_Schedule(t *testing.T) {
	svc := New(Config{MaxAttempts: 10, RetryBase: 10 * time.Millisecond, RetryMax: 50 * time.Millisecond}, memory.New(), nil)
	for run := 0; run < 20; run++ {
		b := svc.newBackOff(context.Background())
		first := b.NextBackOff()
		assert.GreaterOrEqual(t, first, time.Duration(0))
		assert.LessOrEqual(t, first, 10*time.Millisecond)

		waits := 1
		for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 50*time.Millisecond)
			waits++
		}
		assert.Equal(t, 9, waits, "ten attempts wait nine times")
	}
}

func TestBackOff_SingleAttempt(t *testing.T) {
	svc := New(Config{MaxAttempts: 1}, memory.New(), nil)
	assert.Equal(t, backoff.Stop, svc.newBackOff(context.Background()).NextBackOff())
}

// Concurrent substitutions on one pair serialize through the store; none is lost.
func TestConcurrentSubstitutions(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	ids := addTrainers(t, svc, "A", "B")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			absent, substitute := ids[0], ids[1]
			if i%4 == 0 {
				absent, substitute = substitute, absent
			}
			_, err := svc.AddSubstitution(ctx, absent, substitute, day, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pb, err := svc.BalanceBetween(ctx, ids[0], ids[1])
	require.NoError(t, err)
	assert.Equal(t, 15-5, pb.Net)
}
