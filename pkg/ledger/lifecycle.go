package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/budgetly/budgetly/pkg/auth"
	"github.com/budgetly/budgetly/pkg/models"
	"github.com/budgetly/budgetly/pkg/schedule"
	"github.com/budgetly/budgetly/pkg/store"
)

// LockRequest describes funds to lock under a budget name.
type LockRequest struct {
	Name          string
	Tokens        []string
	Amounts       []*big.Int
	ReleaseCycle  time.Duration
	StartTime     time.Time
	ReleaseAmount *big.Int
}

// LockFunds pulls the requested amounts from caller into custody and
// (re)configures the named budget. The first locker of a name owns it.
// Locking an existing budget again requires ownership and nothing left to
// release; balances are merged and the schedule restarts at StartTime.
// A zero StartTime starts the schedule now.
func (e *Engine) LockFunds(ctx context.Context, caller string, req LockRequest) error {
	return e.mutate(ctx, "lock", func(now time.Time) (*outcome, error) {
		if caller == "" {
			return nil, fmt.Errorf("anonymous caller: %w", auth.ErrUnauthorized)
		}
		if err := validateName(req.Name); err != nil {
			return nil, err
		}
		ds, err := deposits(req.Tokens, req.Amounts)
		if err != nil {
			return nil, err
		}
		cycle, err := validateCycle(req.ReleaseCycle)
		if err != nil {
			return nil, err
		}
		if err := validateAmount(req.ReleaseAmount); err != nil {
			return nil, fmt.Errorf("release amount: %w", err)
		}

		allowed, err := e.allowlist(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range ds {
			if !allowed(d.Token) {
				return nil, fmt.Errorf("lock %s: token %s: %w", req.Name, d.Token, ErrTokenNotWhitelisted)
			}
		}

		b, err := e.store.Budget(ctx, req.Name)
		register := false
		switch {
		case errors.Is(err, store.ErrNotFound):
			b = models.NewBudget(req.Name, caller)
			b.CreatedAt = now
			register = true
		case err != nil:
			return nil, fmt.Errorf("load budget: %w", err)
		default:
			if err := e.guard.RequireOwner(caller, b.Owner); err != nil {
				return nil, err
			}
			if avail := schedule.Available(b, now, allowed); avail.Sign() > 0 {
				return nil, fmt.Errorf("relock %s: %s releasable: %w", req.Name, avail, ErrNonZeroBalance)
			}
			b = b.Clone()
		}

		for _, d := range ds {
			b.Deposit(d.Token, d.Amount)
		}
		start := now
		if !req.StartTime.IsZero() {
			start = req.StartTime.UTC().Truncate(time.Second)
		}
		b.ReleaseCycle = cycle
		b.ReleaseAmount = new(big.Int).Set(req.ReleaseAmount)
		b.LastReleaseTime = start
		b.Enabled = true
		b.UpdatedAt = now

		return &outcome{
			changes:   models.Changeset{Budget: b, Register: register},
			transfers: debits(caller, ds),
			deposited: ds,
			events: []models.Event{{
				Kind:      models.EventBudgetCreated,
				Budget:    b.Name,
				Caller:    caller,
				Amounts:   ds,
				Cycle:     cycle,
				Rate:      new(big.Int).Set(b.ReleaseAmount),
				StartTime: &start,
			}},
		}, nil
	})
}

// TopUpBudget adds funds to an existing budget. Tokens need not be
// whitelisted. The release anchor moves to now, so accrued but unreleased
// cycles are forfeited.
func (e *Engine) TopUpBudget(ctx context.Context, caller, name string, tokens []string, amounts []*big.Int) error {
	return e.mutate(ctx, "top_up", func(now time.Time) (*outcome, error) {
		ds, err := deposits(tokens, amounts)
		if err != nil {
			return nil, err
		}
		b, err := e.loadOwned(ctx, caller, name)
		if err != nil {
			return nil, err
		}
		b = b.Clone()
		for _, d := range ds {
			b.Deposit(d.Token, d.Amount)
		}
		b.LastReleaseTime = now
		b.UpdatedAt = now

		return &outcome{
			changes:   models.Changeset{Budget: b},
			transfers: debits(caller, ds),
			deposited: ds,
			events: []models.Event{{
				Kind:    models.EventBudgetToppedUp,
				Budget:  name,
				Caller:  caller,
				Amounts: ds,
			}},
		}, nil
	})
}

// ReleaseFunds pays everything currently releasable to beneficiary, or to
// caller when beneficiary is empty. Releasing with nothing due succeeds and
// changes nothing.
func (e *Engine) ReleaseFunds(ctx context.Context, caller, name, beneficiary string) error {
	return e.mutate(ctx, "release", func(now time.Time) (*outcome, error) {
		b, err := e.loadOwned(ctx, caller, name)
		if err != nil {
			return nil, err
		}
		if !b.Enabled {
			return nil, fmt.Errorf("release %s: %w", name, ErrBudgetDisabled)
		}
		allowed, err := e.allowlist(ctx)
		if err != nil {
			return nil, err
		}
		plan := schedule.Plan(b, now, allowed)
		if len(plan) == 0 {
			return nil, nil
		}
		if beneficiary == "" {
			beneficiary = caller
		}

		b = b.Clone()
		transfers := make([]models.Transfer, 0, len(plan))
		for _, p := range plan {
			b.Withdraw(p.Token, p.Amount)
			transfers = append(transfers, models.Transfer{
				Kind:    models.Credit,
				Token:   p.Token,
				Account: beneficiary,
				Amount:  p.Amount,
			})
		}
		b.LastReleaseTime = now
		b.UpdatedAt = now

		return &outcome{
			changes:   models.Changeset{Budget: b},
			transfers: transfers,
			released:  plan,
			events: []models.Event{{
				Kind:        models.EventBudgetWithdrawn,
				Budget:      name,
				Caller:      caller,
				Beneficiary: beneficiary,
				Amounts:     plan,
			}},
		}, nil
	})
}

// UpdateReleaseAmount changes the per-cycle allowance. The budget must be
// enabled and fully drained of releasable funds.
func (e *Engine) UpdateReleaseAmount(ctx context.Context, caller, name string, rate *big.Int) error {
	return e.mutate(ctx, "update_release_amount", func(now time.Time) (*outcome, error) {
		if err := validateAmount(rate); err != nil {
			return nil, fmt.Errorf("release amount: %w", err)
		}
		b, err := e.reconfigurable(ctx, caller, name, now)
		if err != nil {
			return nil, err
		}
		b.ReleaseAmount = new(big.Int).Set(rate)
		b.UpdatedAt = now
		return &outcome{
			changes: models.Changeset{Budget: b},
			events: []models.Event{{
				Kind:   models.EventReleaseParameterChanged,
				Budget: name,
				Caller: caller,
				Field:  models.FieldReleaseAmount,
				Value:  rate.String(),
			}},
		}, nil
	})
}

// UpdateReleaseCycle changes the cycle length. The budget must be enabled
// and fully drained of releasable funds.
func (e *Engine) UpdateReleaseCycle(ctx context.Context, caller, name string, cycle time.Duration) error {
	return e.mutate(ctx, "update_release_cycle", func(now time.Time) (*outcome, error) {
		c, err := validateCycle(cycle)
		if err != nil {
			return nil, err
		}
		b, err := e.reconfigurable(ctx, caller, name, now)
		if err != nil {
			return nil, err
		}
		b.ReleaseCycle = c
		b.UpdatedAt = now
		return &outcome{
			changes: models.Changeset{Budget: b},
			events: []models.Event{{
				Kind:   models.EventReleaseParameterChanged,
				Budget: name,
				Caller: caller,
				Field:  models.FieldReleaseCycle,
				Value:  strconv.FormatInt(int64(c/time.Second), 10),
			}},
		}, nil
	})
}

// reconfigurable loads a clone of the budget if its schedule may change.
func (e *Engine) reconfigurable(ctx context.Context, caller, name string, now time.Time) (*models.Budget, error) {
	b, err := e.loadOwned(ctx, caller, name)
	if err != nil {
		return nil, err
	}
	if !b.Enabled {
		return nil, fmt.Errorf("reconfigure %s: %w", name, ErrBudgetDisabled)
	}
	avail, err := e.available(ctx, b, now)
	if err != nil {
		return nil, err
	}
	if avail.Sign() > 0 {
		return nil, fmt.Errorf("reconfigure %s: %s releasable: %w", name, avail, ErrNonZeroBalance)
	}
	return b.Clone(), nil
}

// ChangeBudgetStatus enables or disables releases from a budget.
func (e *Engine) ChangeBudgetStatus(ctx context.Context, caller, name string, enabled bool) error {
	return e.mutate(ctx, "change_budget_status", func(now time.Time) (*outcome, error) {
		b, err := e.loadOwned(ctx, caller, name)
		if err != nil {
			return nil, err
		}
		b = b.Clone()
		b.Enabled = enabled
		b.UpdatedAt = now
		return &outcome{
			changes: models.Changeset{Budget: b},
			events: []models.Event{{
				Kind:    models.EventBudgetStatusChanged,
				Budget:  name,
				Caller:  caller,
				Enabled: boolPtr(enabled),
			}},
		}, nil
	})
}
