package custody

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetly/budgetly/pkg/models"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(filepath.Join(t.TempDir(), "custody.db"), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func balance(t *testing.T, v *Vault, token, account string) int64 {
	t.Helper()
	b, err := v.BalanceOf(context.Background(), token, account)
	require.NoError(t, err)
	return b.Int64()
}

func TestMintAndBalance(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(5)))

	assert.Equal(t, int64(105), balance(t, v, "tokenA", "alice"))
	assert.Equal(t, int64(0), balance(t, v, "tokenA", "bob"))
	assert.Equal(t, DefaultEscrow, v.Escrow())
}

func TestSettleDebitAndCredit(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Approve(ctx, "tokenA", "alice", big.NewInt(100)))

	require.NoError(t, v.Settle(ctx, []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: "alice", Amount: big.NewInt(23)},
	}))
	assert.Equal(t, int64(77), balance(t, v, "tokenA", "alice"))
	assert.Equal(t, int64(23), balance(t, v, "tokenA", DefaultEscrow))

	left, err := v.Allowance(ctx, "tokenA", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(77), left.Int64())

	require.NoError(t, v.Settle(ctx, []models.Transfer{
		{Kind: models.Credit, Token: "tokenA", Account: "bob", Amount: big.NewInt(10)},
	}))
	assert.Equal(t, int64(13), balance(t, v, "tokenA", DefaultEscrow))
	assert.Equal(t, int64(10), balance(t, v, "tokenA", "bob"))
}

func TestSettleInsufficientAllowance(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Approve(ctx, "tokenA", "alice", big.NewInt(10)))

	err := v.Settle(ctx, []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: "alice", Amount: big.NewInt(23)},
	})
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Equal(t, int64(100), balance(t, v, "tokenA", "alice"))
}

func TestSettleIsAllOrNothing(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Approve(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Approve(ctx, "tokenB", "alice", big.NewInt(100)))

	err := v.Settle(ctx, []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: "alice", Amount: big.NewInt(50)},
		{Kind: models.Debit, Token: "tokenB", Account: "alice", Amount: big.NewInt(1)},
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(100), balance(t, v, "tokenA", "alice"))
	assert.Equal(t, int64(0), balance(t, v, "tokenA", DefaultEscrow))
	left, err := v.Allowance(ctx, "tokenA", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), left.Int64())
}

func TestCreditExceedingEscrow(t *testing.T) {
	v := newTestVault(t)
	err := v.Settle(context.Background(), []models.Transfer{
		{Kind: models.Credit, Token: "tokenA", Account: "bob", Amount: big.NewInt(1)},
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRevertRestoresBalances(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Approve(ctx, "tokenA", "alice", big.NewInt(100)))

	batch := []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: "alice", Amount: big.NewInt(40)},
		{Kind: models.Credit, Token: "tokenA", Account: "bob", Amount: big.NewInt(15)},
	}
	require.NoError(t, v.Settle(ctx, batch))
	require.NoError(t, v.Revert(ctx, batch))

	assert.Equal(t, int64(100), balance(t, v, "tokenA", "alice"))
	assert.Equal(t, int64(0), balance(t, v, "tokenA", "bob"))
	assert.Equal(t, int64(0), balance(t, v, "tokenA", DefaultEscrow))

	left, err := v.Allowance(ctx, "tokenA", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), left.Int64())
}

func TestSettleRejectsEscrowCounterparty(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Mint(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Approve(ctx, "tokenA", "alice", big.NewInt(100)))
	require.NoError(t, v.Settle(ctx, []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: "alice", Amount: big.NewInt(40)},
	}))

	err := v.Settle(ctx, []models.Transfer{
		{Kind: models.Credit, Token: "tokenA", Account: DefaultEscrow, Amount: big.NewInt(10)},
	})
	assert.ErrorIs(t, err, ErrEscrowAccount)

	err = v.Settle(ctx, []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: DefaultEscrow, Amount: big.NewInt(10)},
	})
	assert.ErrorIs(t, err, ErrEscrowAccount)
	assert.Equal(t, int64(40), balance(t, v, "tokenA", DefaultEscrow))
}

func TestZeroTransfersAreSkipped(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Settle(context.Background(), []models.Transfer{
		{Kind: models.Debit, Token: "tokenA", Account: "alice", Amount: new(big.Int)},
		{Kind: models.Credit, Token: "tokenA", Account: "bob"},
	}))
}
