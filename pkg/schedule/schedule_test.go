package schedule

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/models"
)

const cycle = 200 * time.Second

var start = time.Unix(1_700_000_000, 0)

func allowAll(string) bool { return true }

func allowOnly(tokens ...string) Allowlist {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return func(t string) bool { return set[t] }
}

func lockedBudget(rate string, deposits ...models.TokenAmount) *models.Budget {
	b := models.NewBudget("testBudget", "owner")
	b.ReleaseCycle = cycle
	b.ReleaseAmount = amount.MustParse(rate)
	b.LastReleaseTime = start
	b.Enabled = true
	for _, d := range deposits {
		b.Deposit(d.Token, d.Amount)
	}
	return b
}

func deposit(token, v string) models.TokenAmount {
	return models.TokenAmount{Token: token, Amount: amount.MustParse(v)}
}

func assertAmount(t *testing.T, want string, got *big.Int) {
	t.Helper()
	assert.Equal(t, amount.MustParse(want).String(), got.String(), "expected %s, got %s", want, amount.Format(got))
}

func TestElapsedCycles(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		cycle time.Duration
		want  int64
	}{
		{name: "before anchor", now: start.Add(-time.Hour), cycle: cycle, want: 0},
		{name: "at anchor", now: start, cycle: cycle, want: 0},
		{name: "partial cycle", now: start.Add(cycle - time.Second), cycle: cycle, want: 0},
		{name: "exactly one", now: start.Add(cycle), cycle: cycle, want: 1},
		{name: "floor", now: start.Add(3*cycle + 199*time.Second), cycle: cycle, want: 3},
		{name: "zero cycle", now: start.Add(time.Hour), cycle: 0, want: 0},
		{name: "beyond duration range", now: start.UTC().AddDate(400, 0, 0), cycle: 24 * time.Hour, want: 146097},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ElapsedCycles(start, tt.now, tt.cycle))
		})
	}
}

func TestAvailableCapsAtBalance(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "23"))

	want := []string{"0", "5", "10", "15", "20", "23", "23"}
	for n, w := range want {
		assertAmount(t, w, Available(b, start.Add(time.Duration(n)*cycle), allowAll))
	}
}

func TestAvailableFutureStart(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "23"))
	b.LastReleaseTime = start.Add(100 * time.Second)

	assertAmount(t, "0", Available(b, start, allowAll))
	assertAmount(t, "0", Available(b, start.Add(100*time.Second), allowAll))
	assertAmount(t, "5", Available(b, start.Add(300*time.Second), allowAll))
}

func TestAvailableMultipleWhitelistedTokensShareAllowance(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "11"), deposit("tokenB", "12"))

	assertAmount(t, "5", Available(b, start.Add(cycle), allowAll))
	assertAmount(t, "20", Available(b, start.Add(4*cycle), allowAll))
	assertAmount(t, "23", Available(b, start.Add(5*cycle), allowAll))
}

func TestAvailableDelistedTokenFullyAvailable(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "23"))
	at := start.Add(2 * cycle)

	assertAmount(t, "10", Available(b, at, allowAll))
	assertAmount(t, "23", Available(b, at, allowOnly()))
}

func TestEvaluateMixedPolicies(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "11"), deposit("tokenB", "7"))
	bd := Evaluate(b, start.Add(cycle), allowOnly("tokenA"))

	require.Len(t, bd.Entries, 2)
	assert.Equal(t, Scheduled, bd.Entries[0].Policy)
	assert.Equal(t, FullyAvailable, bd.Entries[1].Policy)
	assert.Equal(t, int64(1), bd.Elapsed)
	assertAmount(t, "5", bd.Capped)
	assertAmount(t, "7", bd.Delisted)
	assertAmount(t, "12", bd.Available)
}

func TestEvaluateDoesNotMutate(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "23"))
	before := b.Details()

	_ = Plan(b, start.Add(10*cycle), allowOnly())

	assert.Equal(t, before, b.Details())
}

func TestPlanDrainsInListOrder(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "3"), deposit("tokenB", "12"))

	plan := Plan(b, start.Add(cycle), allowAll)
	require.Len(t, plan, 2)
	assert.Equal(t, "tokenA", plan[0].Token)
	assertAmount(t, "3", plan[0].Amount)
	assert.Equal(t, "tokenB", plan[1].Token)
	assertAmount(t, "2", plan[1].Amount)
}

func TestPlanFlushesDelistedTokenOnly(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "100"), deposit("tokenB", "10"))

	plan := Plan(b, start.Add(cycle-time.Second), allowOnly("tokenA"))
	require.Len(t, plan, 1)
	assert.Equal(t, "tokenB", plan[0].Token)
	assertAmount(t, "10", plan[0].Amount)
}

func TestPlanEmpty(t *testing.T) {
	b := lockedBudget("5", deposit("tokenA", "23"))
	assert.Empty(t, Plan(b, start, allowAll))
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "scheduled", Scheduled.String())
	assert.Equal(t, "fully_available", FullyAvailable.String())
}

func TestAvailableMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.Int64Range(1, 1_000).Draw(t, "rate")
		cycleSecs := rapid.Int64Range(1, 10_000).Draw(t, "cycle")
		balances := rapid.SliceOfN(rapid.Int64Range(0, 1_000_000), 1, 4).Draw(t, "balances")
		delisted := rapid.IntRange(-1, len(balances)-1).Draw(t, "delisted")

		b := models.NewBudget("prop", "owner")
		b.ReleaseCycle = time.Duration(cycleSecs) * time.Second
		b.ReleaseAmount = big.NewInt(rate)
		b.LastReleaseTime = start
		allowed := map[string]bool{}
		for i, v := range balances {
			token := string(rune('a' + i))
			b.Deposit(token, big.NewInt(v))
			allowed[token] = i != delisted
		}
		list := func(t string) bool { return allowed[t] }

		offsets := rapid.SliceOfN(rapid.Int64Range(0, 1_000_000), 2, 10).Draw(t, "offsets")
		var last int64 = -1
		prev := new(big.Int)
		total := b.Total()
		for _, off := range offsets {
			if off < last {
				off = last
			}
			last = off
			got := Available(b, start.Add(time.Duration(off)*time.Second), list)
			if got.Cmp(prev) < 0 {
				t.Fatalf("available decreased from %s to %s at offset %d", prev, got, off)
			}
			if got.Cmp(total) > 0 {
				t.Fatalf("available %s exceeds total %s", got, total)
			}
			sum := new(big.Int)
			for _, p := range Plan(b, start.Add(time.Duration(off)*time.Second), list) {
				if p.Amount.Cmp(b.Balance(p.Token)) > 0 {
					t.Fatalf("plan releases %s of %s holding %s", p.Amount, p.Token, b.Balance(p.Token))
				}
				sum.Add(sum, p.Amount)
			}
			if sum.Cmp(got) != 0 {
				t.Fatalf("plan sums to %s, available is %s", sum, got)
			}
			prev = got
		}
	})
}
