package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/budgetly/budgetly/pkg/models"
	"github.com/budgetly/budgetly/pkg/schedule"
	"github.com/budgetly/budgetly/pkg/store"
)

// lookup returns the budget or nil when the name was never locked.
func (e *Engine) lookup(ctx context.Context, name string) (*models.Budget, error) {
	b, err := e.store.Budget(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load budget: %w", err)
	}
	return b, nil
}

// GetBudgetDetails returns a snapshot of the named budget. An unknown name
// yields an empty, disabled snapshot.
func (e *Engine) GetBudgetDetails(ctx context.Context, name string) (models.BudgetDetails, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, err := e.lookup(ctx, name)
	if err != nil {
		return models.BudgetDetails{}, err
	}
	if b == nil {
		b = models.NewBudget(name, "")
	}
	return b.Details(), nil
}

// TotalBalance sums every token balance of the named budget.
func (e *Engine) TotalBalance(ctx context.Context, name string) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, err := e.lookup(ctx, name)
	if err != nil || b == nil {
		return new(big.Int), err
	}
	return b.Total(), nil
}

// GetAvailableBalanceToRelease returns what ReleaseFunds would pay out now.
func (e *Engine) GetAvailableBalanceToRelease(ctx context.Context, name string) (*big.Int, error) {
	bd, err := e.Breakdown(ctx, name)
	if err != nil {
		return new(big.Int), err
	}
	return bd.Available, nil
}

// Breakdown evaluates the named budget's schedule at the current time.
func (e *Engine) Breakdown(ctx context.Context, name string) (schedule.Breakdown, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, err := e.lookup(ctx, name)
	if err != nil {
		return schedule.Breakdown{}, err
	}
	if b == nil {
		b = models.NewBudget(name, "")
	}
	allowed, err := e.allowlist(ctx)
	if err != nil {
		return schedule.Breakdown{}, err
	}
	return schedule.Evaluate(b, e.now(), allowed), nil
}

// GetBudgets lists every budget name ever locked, in creation order.
func (e *Engine) GetBudgets(ctx context.Context) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names, err := e.store.Budgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return names, nil
}
