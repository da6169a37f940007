// Package amount converts between human-readable token amounts and the
// 18-decimal fixed-point integers the ledger stores.
package amount

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point precision of every ledger amount.
const Decimals = 18

var (
	// ErrNegative is returned for amounts below zero.
	ErrNegative = errors.New("amount is negative")
	// ErrPrecision is returned when an amount has more than Decimals fraction digits.
	ErrPrecision = errors.New("amount exceeds 18 decimal places")
)

// Parse converts a decimal string such as "61.36" into base units.
func Parse(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrNegative)
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrPrecision)
	}
	return shifted.BigInt(), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders base units as a decimal string without trailing zeros.
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Decimals).String()
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
