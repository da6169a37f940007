// Package custody is a reference custody gateway: an ERC-20 style token
// vault in SQLite with balances, allowances and one escrow account that holds
// everything the ledger has locked.
package custody

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	_ "modernc.org/sqlite"

	"github.com/budgetly/budgetly/pkg/models"
)

var (
	// ErrInsufficientBalance is returned when an account cannot cover a movement.
	ErrInsufficientBalance = errors.New("insufficient custody balance")
	// ErrInsufficientAllowance is returned when a debit exceeds the approved amount.
	ErrInsufficientAllowance = errors.New("insufficient custody allowance")
	// ErrEscrowAccount is returned when a transfer names the escrow account
	// as its counterparty.
	ErrEscrowAccount = errors.New("escrow account cannot be a counterparty")
)

// DefaultEscrow is the account holding locked funds.
const DefaultEscrow = "budgetly"

// Vault holds token balances and allowances granted to the escrow account.
type Vault struct {
	db     *sql.DB
	escrow string
}

const createTables = `
CREATE TABLE IF NOT EXISTS custody_balances (
	token TEXT NOT NULL,
	account TEXT NOT NULL,
	balance TEXT NOT NULL,
	PRIMARY KEY (token, account)
);
CREATE TABLE IF NOT EXISTS custody_allowances (
	token TEXT NOT NULL,
	owner TEXT NOT NULL,
	amount TEXT NOT NULL,
	PRIMARY KEY (token, owner)
);
`

// New opens the vault database and runs auto-migration. An empty escrow
// selects DefaultEscrow.
func New(dbPath, escrow string) (*Vault, error) {
	if escrow == "" {
		escrow = DefaultEscrow
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open custody db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate custody db: %w", err)
	}
	return &Vault{db: db, escrow: escrow}, nil
}

// Escrow returns the account that holds locked funds.
func (v *Vault) Escrow() string { return v.escrow }

// Mint credits new tokens to an account.
func (v *Vault) Mint(ctx context.Context, token, to string, amount *big.Int) error {
	return v.inTx(ctx, func(tx *sql.Tx) error {
		bal, err := readAmount(ctx, tx, `SELECT balance FROM custody_balances WHERE token = ? AND account = ?`, token, to)
		if err != nil {
			return err
		}
		return writeBalance(ctx, tx, token, to, bal.Add(bal, amount))
	})
}

// Approve sets the amount the escrow may pull from owner.
func (v *Vault) Approve(ctx context.Context, token, owner string, amount *big.Int) error {
	_, err := v.db.ExecContext(ctx,
		`INSERT INTO custody_allowances (token, owner, amount) VALUES (?, ?, ?)
		 ON CONFLICT(token, owner) DO UPDATE SET amount = excluded.amount`,
		token, owner, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("approve %s for %s: %w", token, owner, err)
	}
	return nil
}

// BalanceOf returns the balance of account in token.
func (v *Vault) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	return readAmount(ctx, v.db, `SELECT balance FROM custody_balances WHERE token = ? AND account = ?`, token, account)
}

// Allowance returns what the escrow may still pull from owner.
func (v *Vault) Allowance(ctx context.Context, token, owner string) (*big.Int, error) {
	return readAmount(ctx, v.db, `SELECT amount FROM custody_allowances WHERE token = ? AND owner = ?`, token, owner)
}

// Settle applies every transfer or none of them. Debits pull from the
// account into escrow against its allowance; credits pay out of escrow.
func (v *Vault) Settle(ctx context.Context, transfers []models.Transfer) error {
	for _, t := range transfers {
		if t.Account == v.escrow {
			return fmt.Errorf("%s %s %s: %w", t.Kind, t.Token, t.Account, ErrEscrowAccount)
		}
	}
	return v.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range transfers {
			if err := v.apply(ctx, tx, t, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// Revert undoes a settled batch in reverse order. Allowances spent by
// debits are given back.
func (v *Vault) Revert(ctx context.Context, transfers []models.Transfer) error {
	return v.inTx(ctx, func(tx *sql.Tx) error {
		for i := len(transfers) - 1; i >= 0; i-- {
			t := transfers[i]
			if err := v.apply(ctx, tx, t.Invert(), false); err != nil {
				return err
			}
			if t.Kind == models.Debit && t.Amount != nil && t.Amount.Sign() > 0 {
				if err := restoreAllowance(ctx, tx, t); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (v *Vault) apply(ctx context.Context, tx *sql.Tx, t models.Transfer, checkAllowance bool) error {
	if t.Amount == nil || t.Amount.Sign() == 0 {
		return nil
	}
	from, to := v.escrow, t.Account
	if t.Kind == models.Debit {
		from, to = t.Account, v.escrow
		if checkAllowance {
			if err := v.spendAllowance(ctx, tx, t); err != nil {
				return err
			}
		}
	}
	return move(ctx, tx, t.Token, from, to, t.Amount)
}

func (v *Vault) spendAllowance(ctx context.Context, tx *sql.Tx, t models.Transfer) error {
	allowed, err := readAmount(ctx, tx, `SELECT amount FROM custody_allowances WHERE token = ? AND owner = ?`, t.Token, t.Account)
	if err != nil {
		return err
	}
	if allowed.Cmp(t.Amount) < 0 {
		return fmt.Errorf("debit %s %s from %s: %w", t.Amount, t.Token, t.Account, ErrInsufficientAllowance)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE custody_allowances SET amount = ? WHERE token = ? AND owner = ?`,
		allowed.Sub(allowed, t.Amount).String(), t.Token, t.Account,
	)
	if err != nil {
		return fmt.Errorf("spend allowance: %w", err)
	}
	return nil
}

func restoreAllowance(ctx context.Context, tx *sql.Tx, t models.Transfer) error {
	allowed, err := readAmount(ctx, tx, `SELECT amount FROM custody_allowances WHERE token = ? AND owner = ?`, t.Token, t.Account)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO custody_allowances (token, owner, amount) VALUES (?, ?, ?)
		 ON CONFLICT(token, owner) DO UPDATE SET amount = excluded.amount`,
		t.Token, t.Account, allowed.Add(allowed, t.Amount).String(),
	)
	if err != nil {
		return fmt.Errorf("restore allowance: %w", err)
	}
	return nil
}

func move(ctx context.Context, tx *sql.Tx, token, from, to string, amount *big.Int) error {
	src, err := readAmount(ctx, tx, `SELECT balance FROM custody_balances WHERE token = ? AND account = ?`, token, from)
	if err != nil {
		return err
	}
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("move %s %s from %s: %w", amount, token, from, ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	dst, err := readAmount(ctx, tx, `SELECT balance FROM custody_balances WHERE token = ? AND account = ?`, token, to)
	if err != nil {
		return err
	}
	if err := writeBalance(ctx, tx, token, from, src.Sub(src, amount)); err != nil {
		return err
	}
	return writeBalance(ctx, tx, token, to, dst.Add(dst, amount))
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readAmount(ctx context.Context, q querier, query string, args ...any) (*big.Int, error) {
	var s string
	err := q.QueryRowContext(ctx, query, args...).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read custody amount: %w", err)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("read custody amount: invalid integer %q", s)
	}
	return v, nil
}

func writeBalance(ctx context.Context, tx *sql.Tx, token, account string, balance *big.Int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO custody_balances (token, account, balance) VALUES (?, ?, ?)
		 ON CONFLICT(token, account) DO UPDATE SET balance = excluded.balance`,
		token, account, balance.String(),
	)
	if err != nil {
		return fmt.Errorf("write custody balance: %w", err)
	}
	return nil
}

func (v *Vault) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin custody tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit custody tx: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}
