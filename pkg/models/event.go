package models

import (
	"math/big"
	"time"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventTokenStatusChanged      EventKind = "token_status_changed"
	EventBudgetCreated           EventKind = "budget_created"
	EventBudgetToppedUp          EventKind = "budget_topped_up"
	EventBudgetWithdrawn         EventKind = "budget_withdrawn"
	EventBudgetStatusChanged     EventKind = "budget_status_changed"
	EventReleaseParameterChanged EventKind = "release_parameter_changed"
)

// Release parameter names carried by EventReleaseParameterChanged.
const (
	FieldReleaseAmount = "release_amount"
	FieldReleaseCycle  = "release_cycle"
)

// TokenAmount pairs a token with an amount in base units.
type TokenAmount struct {
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
}

// Event is a notification emitted after a ledger operation commits.
type Event struct {
	ID          string        `json:"id"`
	Kind        EventKind     `json:"kind"`
	Budget      string        `json:"budget,omitempty"`
	Caller      string        `json:"caller,omitempty"`
	Token       string        `json:"token,omitempty"`
	Allowed     *bool         `json:"allowed,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`
	Beneficiary string        `json:"beneficiary,omitempty"`
	Amounts     []TokenAmount `json:"amounts,omitempty"`
	Cycle       time.Duration `json:"release_cycle,omitempty"`
	Rate        *big.Int      `json:"release_amount,omitempty"`
	StartTime   *time.Time    `json:"start_time,omitempty"`
	Field       string        `json:"field,omitempty"`
	Value       string        `json:"value,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// EventQueryOpts specifies filters for querying the event log.
type EventQueryOpts struct {
	Budget string
	Kind   EventKind
	Since  time.Time
	Limit  int
}

// EventStat holds aggregate event counts for a kind/day combination.
type EventStat struct {
	Kind  EventKind
	Day   string
	Count int
}

// EventConfig controls the event log subsystem.
type EventConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"` // 0 keeps events forever
}
