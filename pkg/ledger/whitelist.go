package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/budgetly/budgetly/pkg/models"
)

// SetTokenStatus adds token to the whitelist or removes it. Only the
// controller may call it. Setting the current status again is allowed and
// still emits an event.
func (e *Engine) SetTokenStatus(ctx context.Context, caller, token string, allowed bool) error {
	return e.mutate(ctx, "set_token_status", func(now time.Time) (*outcome, error) {
		if err := e.guard.RequireController(caller); err != nil {
			return nil, err
		}
		if token == "" {
			return nil, ErrInvalidToken
		}
		return &outcome{
			changes: models.Changeset{Whitelist: map[string]bool{token: allowed}},
			events: []models.Event{{
				Kind:    models.EventTokenStatusChanged,
				Caller:  caller,
				Token:   token,
				Allowed: boolPtr(allowed),
			}},
		}, nil
	})
}

// IsAllowed reports whether token is whitelisted. Unknown tokens are not.
func (e *Engine) IsAllowed(ctx context.Context, token string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list, err := e.store.Whitelist(ctx)
	if err != nil {
		return false, fmt.Errorf("load whitelist: %w", err)
	}
	return list[token], nil
}

// SeedWhitelist allows every token in tokens that has no recorded status
// yet. Tokens the controller has explicitly delisted stay delisted.
func (e *Engine) SeedWhitelist(ctx context.Context, tokens []string) error {
	return e.mutate(ctx, "seed_whitelist", func(now time.Time) (*outcome, error) {
		list, err := e.store.Whitelist(ctx)
		if err != nil {
			return nil, fmt.Errorf("load whitelist: %w", err)
		}
		changes := make(map[string]bool)
		var evs []models.Event
		for _, t := range tokens {
			if t == "" {
				return nil, ErrInvalidToken
			}
			if _, known := list[t]; known || changes[t] {
				continue
			}
			changes[t] = true
			evs = append(evs, models.Event{
				Kind:    models.EventTokenStatusChanged,
				Caller:  "config",
				Token:   t,
				Allowed: boolPtr(true),
			})
		}
		if len(changes) == 0 {
			return nil, nil
		}
		return &outcome{changes: models.Changeset{Whitelist: changes}, events: evs}, nil
	})
}
