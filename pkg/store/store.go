// Package store persists budgets, the token whitelist and the budget
// directory in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	_ "modernc.org/sqlite"

	"github.com/budgetly/budgetly/pkg/models"
)

// ErrNotFound is returned when a budget has never been persisted.
var ErrNotFound = errors.New("budget not found")

// Store loads ledger state and applies changesets atomically.
type Store interface {
	// Budget returns the persisted budget or ErrNotFound.
	Budget(ctx context.Context, name string) (*models.Budget, error)
	// Budgets returns every registered budget name in creation order.
	Budgets(ctx context.Context) ([]string, error)
	// Whitelist returns the allow-list status of every known token.
	Whitelist(ctx context.Context) (map[string]bool, error)
	// Commit applies a changeset in a single transaction.
	Commit(ctx context.Context, cs models.Changeset) error
	// Close releases resources.
	Close() error
}

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS budgets (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	release_cycle INTEGER NOT NULL,
	release_amount TEXT NOT NULL,
	last_release_time INTEGER NOT NULL,
	enabled INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS budget_tokens (
	budget TEXT NOT NULL,
	position INTEGER NOT NULL,
	token TEXT NOT NULL,
	balance TEXT NOT NULL,
	PRIMARY KEY (budget, token)
);
CREATE INDEX IF NOT EXISTS idx_budget_tokens_position ON budget_tokens(budget, position);
CREATE TABLE IF NOT EXISTS budget_directory (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS token_whitelist (
	token TEXT PRIMARY KEY,
	allowed INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// New opens the SQLite database at dbPath and runs auto-migration.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Budget returns the persisted budget or ErrNotFound.
func (s *SQLiteStore) Budget(ctx context.Context, name string) (*models.Budget, error) {
	var (
		b                         models.Budget
		cycle, last, created, upd int64
		rate                      string
		enabled                   bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, owner, release_cycle, release_amount, last_release_time, enabled, created_at, updated_at
		 FROM budgets WHERE name = ?`, name,
	).Scan(&b.Name, &b.Owner, &cycle, &rate, &last, &enabled, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load budget %s: %w", name, err)
	}

	b.ReleaseCycle = time.Duration(cycle)
	b.LastReleaseTime = time.Unix(last, 0).UTC()
	b.Enabled = enabled
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.UpdatedAt = time.Unix(upd, 0).UTC()
	if b.ReleaseAmount, err = parseInt(rate); err != nil {
		return nil, fmt.Errorf("load budget %s: release amount: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT token, balance FROM budget_tokens WHERE budget = ? ORDER BY position ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("load budget tokens %s: %w", name, err)
	}
	defer rows.Close()

	b.Balances = make(map[string]*big.Int)
	for rows.Next() {
		var token, balance string
		if err := rows.Scan(&token, &balance); err != nil {
			return nil, fmt.Errorf("scan budget token: %w", err)
		}
		v, err := parseInt(balance)
		if err != nil {
			return nil, fmt.Errorf("load budget %s: balance of %s: %w", name, token, err)
		}
		b.Tokens = append(b.Tokens, token)
		b.Balances[token] = v
	}
	return &b, rows.Err()
}

// Budgets returns every registered budget name in creation order.
func (s *SQLiteStore) Budgets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM budget_directory ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan budget name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Whitelist returns the allow-list status of every known token.
func (s *SQLiteStore) Whitelist(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, allowed FROM token_whitelist`)
	if err != nil {
		return nil, fmt.Errorf("load whitelist: %w", err)
	}
	defer rows.Close()

	list := make(map[string]bool)
	for rows.Next() {
		var token string
		var allowed bool
		if err := rows.Scan(&token, &allowed); err != nil {
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		list[token] = allowed
	}
	return list, rows.Err()
}

// Commit applies a changeset in a single transaction. Nothing is written
// unless every statement succeeds.
func (s *SQLiteStore) Commit(ctx context.Context, cs models.Changeset) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().Unix()

	if b := cs.Budget; b != nil {
		if err = saveBudget(ctx, tx, b, now); err != nil {
			return err
		}
		if cs.Register {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO budget_directory (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, b.Name,
			); err != nil {
				return fmt.Errorf("register budget %s: %w", b.Name, err)
			}
		}
	}

	for token, allowed := range cs.Whitelist {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO token_whitelist (token, allowed, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(token) DO UPDATE SET allowed = excluded.allowed, updated_at = excluded.updated_at`,
			token, allowed, now,
		); err != nil {
			return fmt.Errorf("set token status %s: %w", token, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveBudget(ctx context.Context, tx *sql.Tx, b *models.Budget, now int64) error {
	rate := "0"
	if b.ReleaseAmount != nil {
		rate = b.ReleaseAmount.String()
	}
	created := now
	if !b.CreatedAt.IsZero() {
		created = b.CreatedAt.Unix()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO budgets (name, owner, release_cycle, release_amount, last_release_time, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			release_cycle = excluded.release_cycle,
			release_amount = excluded.release_amount,
			last_release_time = excluded.last_release_time,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		b.Name, b.Owner, int64(b.ReleaseCycle), rate, b.LastReleaseTime.Unix(), b.Enabled, created, now,
	)
	if err != nil {
		return fmt.Errorf("save budget %s: %w", b.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM budget_tokens WHERE budget = ?`, b.Name); err != nil {
		return fmt.Errorf("reset budget tokens %s: %w", b.Name, err)
	}
	for i, token := range b.Tokens {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO budget_tokens (budget, position, token, balance) VALUES (?, ?, ?, ?)`,
			b.Name, i, token, b.Balance(token).String(),
		); err != nil {
			return fmt.Errorf("save budget token %s/%s: %w", b.Name, token, err)
		}
	}
	return nil
}

func parseInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
