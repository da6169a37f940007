// Package schedule computes how much of a budget is releasable at a given
// moment. Every function is pure: inputs are never mutated, so callers may
// evaluate a budget from any read path without coordination.
package schedule

import (
	"math"
	"math/big"
	"time"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/models"
)

// Policy selects how a resident token contributes to the releasable amount.
type Policy int

const (
	// Scheduled tokens release at most the per-cycle allowance, capped by
	// their balance.
	Scheduled Policy = iota
	// FullyAvailable tokens are delisted and release their whole balance.
	FullyAvailable
)

func (p Policy) String() string {
	if p == FullyAvailable {
		return "fully_available"
	}
	return "scheduled"
}

// Allowlist reports whether a token is currently whitelisted.
type Allowlist func(token string) bool

// Entry is one token of a budget tagged with its release policy.
type Entry struct {
	Token   string
	Balance *big.Int
	Policy  Policy
}

// Breakdown is the result of evaluating a budget at one instant.
type Breakdown struct {
	Elapsed   int64
	Scheduled *big.Int // elapsed * release amount, before capping
	Capped    *big.Int // scheduled portion after the whitelisted-balance cap
	Delisted  *big.Int // sum of delisted balances
	Available *big.Int
	Entries   []Entry
}

// ElapsedCycles returns the number of whole cycles between last and now.
// It is zero when now precedes last or the cycle is not positive.
func ElapsedCycles(last, now time.Time, cycle time.Duration) int64 {
	if cycle <= 0 || now.Before(last) {
		return 0
	}
	if d := now.Sub(last); d < math.MaxInt64 {
		return int64(d / cycle)
	}
	// Sub saturates past ~292 years; count whole seconds instead.
	secs := int64(cycle / time.Second)
	if secs == 0 {
		return math.MaxInt64
	}
	return (now.Unix() - last.Unix()) / secs
}

// Tag classifies every resident token of b.
func Tag(b *models.Budget, allowed Allowlist) []Entry {
	entries := make([]Entry, 0, len(b.Tokens))
	for _, t := range b.Tokens {
		p := Scheduled
		if !allowed(t) {
			p = FullyAvailable
		}
		entries = append(entries, Entry{Token: t, Balance: b.Balance(t), Policy: p})
	}
	return entries
}

// Evaluate folds the tagged tokens of b into the releasable amount at now.
func Evaluate(b *models.Budget, now time.Time, allowed Allowlist) Breakdown {
	elapsed := ElapsedCycles(b.LastReleaseTime, now, b.ReleaseCycle)
	rate := new(big.Int)
	if b.ReleaseAmount != nil {
		rate.Set(b.ReleaseAmount)
	}
	scheduled := new(big.Int).Mul(big.NewInt(elapsed), rate)

	entries := Tag(b, allowed)
	whitelisted, delisted := new(big.Int), new(big.Int)
	for _, e := range entries {
		switch e.Policy {
		case Scheduled:
			whitelisted.Add(whitelisted, e.Balance)
		case FullyAvailable:
			delisted.Add(delisted, e.Balance)
		}
	}

	capped := amount.Min(scheduled, whitelisted)
	available := amount.Min(new(big.Int).Add(capped, delisted), b.Total())

	return Breakdown{
		Elapsed:   elapsed,
		Scheduled: scheduled,
		Capped:    capped,
		Delisted:  delisted,
		Available: available,
		Entries:   entries,
	}
}

// Available returns the amount releasable from b at now.
func Available(b *models.Budget, now time.Time, allowed Allowlist) *big.Int {
	return Evaluate(b, now, allowed).Available
}

// Plan distributes the releasable amount over the budget's tokens. Delisted
// tokens release their full balance; the scheduled portion drains
// whitelisted tokens in list order, each emptied before the next is touched.
// Tokens with nothing to release are omitted.
func Plan(b *models.Budget, now time.Time, allowed Allowlist) []models.TokenAmount {
	bd := Evaluate(b, now, allowed)
	remaining := new(big.Int).Set(bd.Capped)

	var plan []models.TokenAmount
	for _, e := range bd.Entries {
		var out *big.Int
		switch e.Policy {
		case FullyAvailable:
			out = e.Balance
		case Scheduled:
			out = amount.Min(e.Balance, remaining)
			remaining.Sub(remaining, out)
		}
		if out.Sign() > 0 {
			plan = append(plan, models.TokenAmount{Token: e.Token, Amount: new(big.Int).Set(out)})
		}
	}
	return plan
}
