// Package liquidation derives liquidation prices and loan-to-value figures
// from a position's deposits and borrows in the three pool assets.
package liquidation

import (
	"github.com/holiman/uint256"
)

// PositionInputs are a borrower's balances. L is pool liquidity, X and Y the
// two pool tokens. Values are plain uint256.Int so a struct copy is a deep copy.
type PositionInputs struct {
	DepositL uint256.Int
	DepositX uint256.Int
	DepositY uint256.Int
	BorrowL  uint256.Int
	BorrowX  uint256.Int
	BorrowY  uint256.Int

	// SqrtPriceQ64 is the current pool sqrt price, sqrt(Y/X) in Q64.64.
	SqrtPriceQ64 uint256.Int
	// ActiveLiquidity is the pool liquidity saturation is measured against.
	ActiveLiquidity uint256.Int
}

// Side is a net balance: a magnitude and whether it is owed.
type Side struct {
	Amount   uint256.Int
	Borrowed bool
}

func net(deposit, borrow *uint256.Int) Side {
	if borrow.Gt(deposit) {
		var s Side
		s.Amount.Sub(borrow, deposit)
		s.Borrowed = true
		return s
	}
	var s Side
	s.Amount.Sub(deposit, borrow)
	return s
}

func (in *PositionInputs) NetL() Side { return net(&in.DepositL, &in.BorrowL) }
func (in *PositionInputs) NetX() Side { return net(&in.DepositX, &in.BorrowX) }
func (in *PositionInputs) NetY() Side { return net(&in.DepositY, &in.BorrowY) }

// NetXDebt returns the net X owed, zero when X is net deposited.
func (in *PositionInputs) NetXDebt() *uint256.Int {
	if s := in.NetX(); s.Borrowed {
		return &s.Amount
	}
	return new(uint256.Int)
}

// NetYDebt returns the net Y owed, zero when Y is net deposited.
func (in *PositionInputs) NetYDebt() *uint256.Int {
	if s := in.NetY(); s.Borrowed {
		return &s.Amount
	}
	return new(uint256.Int)
}

// HasDebt reports whether anything is borrowed.
func (in *PositionInputs) HasDebt() bool {
	return !in.BorrowL.IsZero() || !in.BorrowX.IsZero() || !in.BorrowY.IsZero()
}
