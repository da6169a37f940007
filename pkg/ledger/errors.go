package ledger

import (
	"errors"

	"github.com/budgetly/budgetly/pkg/auth"
	"github.com/budgetly/budgetly/pkg/custody"
)

var (
	// ErrTokenNotWhitelisted signals a lock with a token that is not allowed.
	ErrTokenNotWhitelisted = errors.New("token is not whitelisted")
	// ErrBudgetDisabled signals a release or reconfiguration of a disabled budget.
	ErrBudgetDisabled = errors.New("budget is disabled")
	// ErrNonZeroBalance signals a reconfiguration while funds are releasable.
	ErrNonZeroBalance = errors.New("available balance to release is not zero")
	// ErrBudgetNotFound signals an operation on a name that was never locked.
	ErrBudgetNotFound = errors.New("budget not found")
	// ErrLengthMismatch signals token and amount lists of different lengths.
	ErrLengthMismatch = errors.New("tokens and amounts length mismatch")
	// ErrInvalidSchedule signals a release cycle shorter than one second.
	ErrInvalidSchedule = errors.New("release cycle must be at least one second")
	// ErrInvalidAmount signals a missing or negative amount.
	ErrInvalidAmount = errors.New("amount must be non-negative")
	// ErrInvalidName signals an empty budget name or one longer than 32 bytes.
	ErrInvalidName = errors.New("budget name must be 1 to 32 bytes")
	// ErrInvalidToken signals an empty token identifier.
	ErrInvalidToken = errors.New("token identifier is empty")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrTokenNotWhitelisted, "token_not_whitelisted"},
	{ErrBudgetDisabled, "budget_disabled"},
	{ErrNonZeroBalance, "non_zero_balance"},
	{ErrBudgetNotFound, "budget_not_found"},
	{ErrLengthMismatch, "length_mismatch"},
	{ErrInvalidSchedule, "invalid_schedule"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidName, "invalid_name"},
	{ErrInvalidToken, "invalid_token"},
	{custody.ErrInsufficientBalance, "insufficient_custody_balance"},
	{custody.ErrInsufficientAllowance, "insufficient_custody_allowance"},
	{custody.ErrEscrowAccount, "escrow_account"},
	{auth.ErrUnauthorized, "unauthorized"},
}

// Code returns a stable machine-readable label for err: "ok" for nil,
// "internal" for anything outside the ledger taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
