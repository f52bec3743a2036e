package liquidation

import (
	"fmt"
	"math"

	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
)

// Value prices an (L, X, Y) bundle in Y units at sqrt price s:
// 2*l*s + x*s^2 + y.
func Value(l, x, y, sqrtPriceQ64 *uint256.Int) (*uint256.Int, error) {
	lv, err := fpmath.MulDiv(l, sqrtPriceQ64, fpmath.Q64, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	if lv, err = fpmath.Add(lv, lv); err != nil {
		return nil, err
	}
	xs, err := fpmath.MulDiv(x, sqrtPriceQ64, fpmath.Q64, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	xv, err := fpmath.MulDiv(xs, sqrtPriceQ64, fpmath.Q64, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	sum, err := fpmath.Add(lv, xv)
	if err != nil {
		return nil, err
	}
	return fpmath.Add(sum, y)
}

// CollateralAndDebt values deposits and borrows at the current price.
func (in *PositionInputs) CollateralAndDebt() (collateral, debt *uint256.Int, err error) {
	collateral, err = Value(&in.DepositL, &in.DepositX, &in.DepositY, &in.SqrtPriceQ64)
	if err != nil {
		return nil, nil, err
	}
	debt, err = Value(&in.BorrowL, &in.BorrowX, &in.BorrowY, &in.SqrtPriceQ64)
	if err != nil {
		return nil, nil, err
	}
	return collateral, debt, nil
}

// LTVBps returns debt/collateral in basis points. Debt without collateral is
// reported as math.MaxUint64. A ratio that does not fit in uint64 is an
// overflow.
func LTVBps(collateral, debt *uint256.Int) (uint64, error) {
	if debt.IsZero() {
		return 0, nil
	}
	if collateral.IsZero() {
		return math.MaxUint64, nil
	}
	v, err := fpmath.MulDiv(debt, fpmath.BPSInt, collateral, fpmath.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("ltv: %w", err)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("ltv %s bps: %w", v.Dec(), fpmath.ErrOverflow)
	}
	return v.Uint64(), nil
}
