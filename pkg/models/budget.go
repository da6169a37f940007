package models

import (
	"math/big"
	"time"
)

// MaxNameLength is the size of the fixed-width budget key.
const MaxNameLength = 32

// Budget is a named, multi-token fund with its own release schedule.
type Budget struct {
	Name            string
	Owner           string
	Tokens          []string
	Balances        map[string]*big.Int
	ReleaseCycle    time.Duration
	ReleaseAmount   *big.Int
	LastReleaseTime time.Time
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewBudget returns an empty budget ready to receive its first lock.
func NewBudget(name, owner string) *Budget {
	return &Budget{
		Name:          name,
		Owner:         owner,
		Balances:      make(map[string]*big.Int),
		ReleaseAmount: new(big.Int),
	}
}

// Balance returns the locked amount of token. Unknown tokens hold zero.
func (b *Budget) Balance(token string) *big.Int {
	if v, ok := b.Balances[token]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Total sums the balances of every resident token.
func (b *Budget) Total() *big.Int {
	total := new(big.Int)
	for _, t := range b.Tokens {
		if v := b.Balances[t]; v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Deposit adds amount to token, appending token to the list on first sight.
func (b *Budget) Deposit(token string, amount *big.Int) {
	if b.Balances == nil {
		b.Balances = make(map[string]*big.Int)
	}
	cur, ok := b.Balances[token]
	if !ok {
		b.Tokens = append(b.Tokens, token)
		cur = new(big.Int)
	}
	b.Balances[token] = new(big.Int).Add(cur, amount)
}

// Withdraw subtracts amount from token. The caller guarantees amount never
// exceeds the balance.
func (b *Budget) Withdraw(token string, amount *big.Int) {
	b.Balances[token] = new(big.Int).Sub(b.Balance(token), amount)
}

// Clone returns a deep copy so a failed operation never touches the original.
func (b *Budget) Clone() *Budget {
	c := *b
	c.Tokens = append([]string(nil), b.Tokens...)
	c.Balances = make(map[string]*big.Int, len(b.Balances))
	for k, v := range b.Balances {
		c.Balances[k] = new(big.Int).Set(v)
	}
	if b.ReleaseAmount != nil {
		c.ReleaseAmount = new(big.Int).Set(b.ReleaseAmount)
	} else {
		c.ReleaseAmount = new(big.Int)
	}
	return &c
}

// BudgetDetails is the read-only snapshot returned by queries. Balances is
// parallel to Tokens.
type BudgetDetails struct {
	Name            string        `json:"name"`
	Owner           string        `json:"owner"`
	Tokens          []string      `json:"tokens"`
	Balances        []*big.Int    `json:"balances"`
	ReleaseCycle    time.Duration `json:"release_cycle"`
	ReleaseAmount   *big.Int      `json:"release_amount"`
	LastReleaseTime time.Time     `json:"last_release_time"`
	Enabled         bool          `json:"enabled"`
}

// Details builds the query snapshot of b.
func (b *Budget) Details() BudgetDetails {
	d := BudgetDetails{
		Name:            b.Name,
		Owner:           b.Owner,
		Tokens:          append([]string{}, b.Tokens...),
		Balances:        make([]*big.Int, 0, len(b.Tokens)),
		ReleaseCycle:    b.ReleaseCycle,
		ReleaseAmount:   new(big.Int),
		LastReleaseTime: b.LastReleaseTime,
		Enabled:         b.Enabled,
	}
	if b.ReleaseAmount != nil {
		d.ReleaseAmount.Set(b.ReleaseAmount)
	}
	for _, t := range b.Tokens {
		d.Balances = append(d.Balances, b.Balance(t))
	}
	return d
}

// Changeset is everything one ledger operation persists. The store applies it
// in a single transaction.
type Changeset struct {
	Budget    *Budget
	Register  bool
	Whitelist map[string]bool
}
