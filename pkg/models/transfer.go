package models

import "math/big"

// TransferKind is the direction of a custody movement.
type TransferKind string

const (
	// Debit moves funds from an account into ledger custody.
	Debit TransferKind = "debit"
	// Credit moves funds out of ledger custody to an account.
	Credit TransferKind = "credit"
)

// Transfer is one movement settled by the custody gateway.
type Transfer struct {
	Kind    TransferKind
	Token   string
	Account string
	Amount  *big.Int
}

// Invert returns the movement that undoes t.
func (t Transfer) Invert() Transfer {
	inv := t
	if t.Kind == Debit {
		inv.Kind = Credit
	} else {
		inv.Kind = Debit
	}
	return inv
}
