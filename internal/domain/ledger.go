package domain

import (
	"fmt"
	"sort"
	"time"
)

// ─── Balance Ledger ─────────────────────────────────────────────────────────
// One day of debt per substitution. The pair's state is a signed net value
// relative to (absent, substitute); a directed Balance is only its storage form.
// Apply is net+1 and Revert is net-1, so Revert always undoes Apply.

// Outcome describes what a ledger step did to the pair's balance.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"   // pair was even, now has a balance
	OutcomeIncreased Outcome = "increased" // existing debt grew
	OutcomeReduced   Outcome = "reduced"   // existing debt shrank, same direction
	OutcomeSettled   Outcome = "settled"   // debt reached zero, balance deleted
)

// Step is the result of one ledger operation on a pair.
type Step struct {
	Pair    PairKey  `json:"-"`
	Before  *Balance `json:"before,omitempty"`
	After   *Balance `json:"after,omitempty"`
	Outcome Outcome  `json:"outcome"`
}

// deleted reports whether the step removed the pair's balance.
func (s Step) deleted() bool { return s.Before != nil && s.After == nil }

// ApplySubstitution books one day of debt from absent to substitute against
// the pair's current balance (nil when the pair is even). The caller
// guarantees absent != substitute.
func ApplySubstitution(current *Balance, absent, substitute TrainerID, now time.Time) Step {
	return shift(current, absent, substitute, +1, now)
}

// RevertSubstitution removes one day of debt that absent owed to substitute.
// On an even pair this leaves the substitute owing the absent trainer a day.
func RevertSubstitution(current *Balance, absent, substitute TrainerID, now time.Time) Step {
	return shift(current, absent, substitute, -1, now)
}

func shift(current *Balance, absent, substitute TrainerID, delta int, now time.Time) Step {
	before := netOf(current, absent)
	after := before + delta

	step := Step{
		Pair:  NewPairKey(absent, substitute),
		After: balanceOf(after, absent, substitute, now),
	}
	if current != nil {
		prev := *current
		step.Before = &prev
	}

	switch {
	case before == 0:
		step.Outcome = OutcomeCreated
	case after == 0:
		step.Outcome = OutcomeSettled
	case abs(after) > abs(before):
		step.Outcome = OutcomeIncreased
	default:
		step.Outcome = OutcomeReduced
	}
	return step
}

// netOf returns the balance as a signed day count: positive when `from` is
// the debtor, negative when `from` is the creditor.
func netOf(b *Balance, from TrainerID) int {
	switch {
	case b == nil:
		return 0
	case b.Debtor == from:
		return b.DaysOwed
	default:
		return -b.DaysOwed
	}
}

func balanceOf(net int, first, second TrainerID, now time.Time) *Balance {
	switch {
	case net > 0:
		return &Balance{Debtor: first, Creditor: second, DaysOwed: net, UpdatedAt: now}
	case net < 0:
		return &Balance{Debtor: second, Creditor: first, DaysOwed: -net, UpdatedAt: now}
	default:
		return nil
	}
}

// NetBalance is the signed view of a pair's balance: positive if trainer1
// owes trainer2, negative if trainer2 owes trainer1, zero if even.
func NetBalance(b *Balance, trainer1, trainer2 TrainerID) int {
	if b == nil || !b.Involves(trainer1) || !b.Involves(trainer2) {
		return 0
	}
	return netOf(b, trainer1)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ─── In-memory Ledger ───────────────────────────────────────────────────────

// Ledger owns the current balance of every pair. It is not safe for
// concurrent use; callers serialize access per pair.
type Ledger struct {
	balances map[PairKey]Balance
	now      func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[PairKey]Balance),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// LedgerFromBalances rebuilds a ledger from stored balances. A later balance
// for the same pair replaces an earlier one.
func LedgerFromBalances(balances []Balance) *Ledger {
	l := NewLedger()
	for _, b := range balances {
		if b.DaysOwed < 1 || b.Debtor == b.Creditor {
			continue
		}
		l.balances[b.Pair()] = b
	}
	return l
}

// apply records a substitution of absent by substitute.
func (l *Ledger) apply(absent, substitute TrainerID) Step {
	step := ApplySubstitution(l.Get(absent, substitute), absent, substitute, l.now())
	l.store(step)
	return step
}

// revert removes a previously applied substitution of absent by substitute.
func (l *Ledger) revert(absent, substitute TrainerID) Step {
	step := RevertSubstitution(l.Get(absent, substitute), absent, substitute, l.now())
	l.store(step)
	return step
}

func (l *Ledger) store(step Step) {
	if step.After == nil {
		delete(l.balances, step.Pair)
		return
	}
	l.balances[step.Pair] = *step.After
}

// Put replaces the pair's balance; nil clears it. Malformed balances are
// rejected so the ledger invariants hold for whatever a store writes.
func (l *Ledger) Put(pair PairKey, b *Balance) error {
	if b == nil {
		delete(l.balances, pair)
		return nil
	}
	if b.DaysOwed < 1 || b.Debtor == b.Creditor || b.Pair() != pair {
		return fmt.Errorf("%w: malformed balance for %s", ErrInvalidInput, pair)
	}
	l.balances[pair] = *b
	return nil
}

// Get returns a copy of the pair's balance, or nil if the pair is even.
func (l *Ledger) Get(a, b TrainerID) *Balance {
	bal, ok := l.balances[NewPairKey(a, b)]
	if !ok {
		return nil
	}
	return &bal
}

// net returns the signed balance between trainer1 and trainer2.
func (l *Ledger) net(trainer1, trainer2 TrainerID) int {
	return NetBalance(l.Get(trainer1, trainer2), trainer1, trainer2)
}

// Balances returns every balance, largest debt first.
func (l *Ledger) Balances() []Balance {
	out := make([]Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, b)
	}
	SortBalances(out)
	return out
}

// size returns the number of pairs with a non-zero balance.
func (l *Ledger) size() int { return len(l.balances) }

// RemoveTrainer drops every balance involving the trainer and returns how many.
func (l *Ledger) RemoveTrainer(id TrainerID) int {
	n := 0
	for k := range l.balances {
		if k.Low == id || k.High == id {
			delete(l.balances, k)
			n++
		}
	}
	return n
}

// SortBalances orders balances by days owed descending, then by pair for a
// stable listing.
func SortBalances(bs []Balance) {
	sort.SliceStable(bs, func(i, j int) bool {
		if bs[i].DaysOwed != bs[j].DaysOwed {
			return bs[i].DaysOwed > bs[j].DaysOwed
		}
		return bs[i].Pair().String() < bs[j].Pair().String()
	})
}
