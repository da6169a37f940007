// Package ledger implements the budget registry: locking funds under a name,
// topping up, releasing on a cycle, and reconfiguring the release schedule.
//
// Every mutation follows the same path. The budget is loaded and cloned, the
// new state and the custody transfers are computed, the transfers are settled
// through the Gateway, and the new state is committed to the Store in one
// transaction. A commit failure reverts the settled transfers, so a call
// either has its full effect or none.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/budgetly/budgetly/pkg/metrics"
	"github.com/budgetly/budgetly/pkg/models"
	"github.com/budgetly/budgetly/pkg/schedule"
	"github.com/budgetly/budgetly/pkg/store"
)

// Gateway moves tokens between callers and the ledger's custody account.
type Gateway interface {
	// Settle applies the batch atomically: all transfers or none.
	Settle(ctx context.Context, transfers []models.Transfer) error
	// Revert undoes a batch previously accepted by Settle.
	Revert(ctx context.Context, transfers []models.Transfer) error
}

// Guard authorizes callers.
type Guard interface {
	RequireController(caller string) error
	RequireOwner(caller, owner string) error
}

// Recorder receives events after an operation commits.
type Recorder interface {
	Record(ctx context.Context, evs ...models.Event) error
}

// Engine is the budget registry. It is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	store   store.Store
	gateway Gateway
	guard   Guard
	logger  *zap.Logger
	metrics *metrics.Metrics
	events  Recorder
	clock   func() time.Time
}

// New creates an engine over st, settling funds through gw.
func New(st store.Store, gw Gateway, guard Guard, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   st,
		gateway: gw,
		guard:   guard,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithMetrics attaches Prometheus instrumentation.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithEvents attaches an event sink.
func (e *Engine) WithEvents(r Recorder) *Engine {
	e.events = r
	return e
}

// now returns the clock reading at the ledger's one-second resolution.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Second)
}

// outcome is what a mutation wants applied. A nil outcome is a no-op.
type outcome struct {
	changes   models.Changeset
	transfers []models.Transfer
	events    []models.Event
	deposited []models.TokenAmount
	released  []models.TokenAmount
}

// mutate runs fn under the write lock and applies its outcome.
func (e *Engine) mutate(ctx context.Context, op string, fn func(now time.Time) (*outcome, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out, err := fn(now)
	if err == nil && out != nil {
		err = e.apply(ctx, out)
	}
	e.metrics.Observe(op, Code(err))
	if err != nil {
		e.logger.Warn("ledger operation failed",
			zap.String("operation", op),
			zap.String("code", Code(err)),
			zap.Error(err),
		)
		return err
	}
	if out == nil {
		return nil
	}

	for _, ta := range out.deposited {
		e.metrics.Deposited(ta.Token, ta.Amount)
	}
	for _, ta := range out.released {
		e.metrics.Released(ta.Token, ta.Amount)
	}
	if out.changes.Register {
		if names, err := e.store.Budgets(ctx); err == nil {
			e.metrics.SetBudgets(len(names))
		}
	}

	fields := []zap.Field{zap.String("operation", op)}
	if b := out.changes.Budget; b != nil {
		fields = append(fields, zap.String("budget", b.Name))
	}
	e.logger.Info("ledger operation committed", fields...)

	e.emit(ctx, now, out.events)
	return nil
}

// apply settles the transfers and commits the changeset, reverting the
// transfers if the commit fails.
func (e *Engine) apply(ctx context.Context, out *outcome) error {
	if len(out.transfers) > 0 {
		if err := e.gateway.Settle(ctx, out.transfers); err != nil {
			return fmt.Errorf("settle transfers: %w", err)
		}
	}
	if err := e.store.Commit(ctx, out.changes); err != nil {
		if len(out.transfers) > 0 {
			if rerr := e.gateway.Revert(ctx, out.transfers); rerr != nil {
				e.logger.Error("revert after failed commit", zap.Error(rerr))
				return fmt.Errorf("commit ledger: %w", errors.Join(err, rerr))
			}
		}
		return fmt.Errorf("commit ledger: %w", err)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, now time.Time, evs []models.Event) {
	if e.events == nil || len(evs) == 0 {
		return
	}
	for i := range evs {
		evs[i].CreatedAt = now
	}
	if err := e.events.Record(ctx, evs...); err != nil {
		e.logger.Error("record events", zap.Error(err))
	}
}

// load fetches a budget that must exist.
func (e *Engine) load(ctx context.Context, name string) (*models.Budget, error) {
	b, err := e.store.Budget(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("budget %q: %w", name, ErrBudgetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load budget: %w", err)
	}
	return b, nil
}

// loadOwned fetches a budget and checks that caller may administer it.
func (e *Engine) loadOwned(ctx context.Context, caller, name string) (*models.Budget, error) {
	b, err := e.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.guard.RequireOwner(caller, b.Owner); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Engine) allowlist(ctx context.Context) (schedule.Allowlist, error) {
	list, err := e.store.Whitelist(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whitelist: %w", err)
	}
	return func(token string) bool { return list[token] }, nil
}

// available evaluates b against the current whitelist.
func (e *Engine) available(ctx context.Context, b *models.Budget, now time.Time) (*big.Int, error) {
	allowed, err := e.allowlist(ctx)
	if err != nil {
		return nil, err
	}
	return schedule.Available(b, now, allowed), nil
}

func validateName(name string) error {
	if name == "" || len(name) > models.MaxNameLength {
		return fmt.Errorf("name %q: %w", name, ErrInvalidName)
	}
	return nil
}

func validateAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func validateCycle(cycle time.Duration) (time.Duration, error) {
	if cycle < time.Second {
		return 0, fmt.Errorf("cycle %s: %w", cycle, ErrInvalidSchedule)
	}
	return cycle.Truncate(time.Second), nil
}

// deposits validates parallel token and amount lists and pairs them up.
func deposits(tokens []string, amounts []*big.Int) ([]models.TokenAmount, error) {
	if len(tokens) != len(amounts) {
		return nil, fmt.Errorf("%d tokens, %d amounts: %w", len(tokens), len(amounts), ErrLengthMismatch)
	}
	out := make([]models.TokenAmount, 0, len(tokens))
	for i, t := range tokens {
		if t == "" {
			return nil, ErrInvalidToken
		}
		if err := validateAmount(amounts[i]); err != nil {
			return nil, fmt.Errorf("amount for %s: %w", t, err)
		}
		out = append(out, models.TokenAmount{Token: t, Amount: new(big.Int).Set(amounts[i])})
	}
	return out, nil
}

// debits builds the custody pulls for a deposit from caller.
func debits(caller string, ds []models.TokenAmount) []models.Transfer {
	var ts []models.Transfer
	for _, d := range ds {
		if d.Amount.Sign() == 0 {
			continue
		}
		ts = append(ts, models.Transfer{Kind: models.Debit, Token: d.Token, Account: caller, Amount: d.Amount})
	}
	return ts
}

func boolPtr(v bool) *bool { return &v }
