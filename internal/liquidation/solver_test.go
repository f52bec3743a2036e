package liquidation_test

import (
	"math"
	"testing"

	"SatLedger/internal/liquidation"
	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullLTV = fpmath.BPS

func q64(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.Q64)
}

// ============================================================================
// Test: Solve
// ============================================================================

func TestSolve_NoDebt(t *testing.T) {
	var in liquidation.PositionInputs
	in.DepositY.SetUint64(100)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetX.IsZero())
	assert.True(t, p.NetY.IsZero())
}

func TestSolve_XDebtAgainstY(t *testing.T) {
	// 100 >= s^2 * 1 until s = 10
	var in liquidation.PositionInputs
	in.DepositY.SetUint64(100)
	in.BorrowX.SetUint64(1)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetX.Eq(q64(10)), "got %s", p.NetX.Dec())
	assert.True(t, p.NetY.IsZero())
}

func TestSolve_YDebtAgainstX(t *testing.T) {
	// s^2 * 1 >= 4 until s = 2
	var in liquidation.PositionInputs
	in.DepositX.SetUint64(1)
	in.BorrowY.SetUint64(4)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetY.Eq(q64(2)), "got %s", p.NetY.Dec())
	assert.True(t, p.NetX.IsZero())
}

func TestSolve_XDebtAgainstL(t *testing.T) {
	// 2*10*s >= s^2 until s = 20
	var in liquidation.PositionInputs
	in.DepositL.SetUint64(10)
	in.BorrowX.SetUint64(1)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetX.Eq(q64(20)), "got %s", p.NetX.Dec())
}

func TestSolve_YDebtAgainstL(t *testing.T) {
	// 2*10*s >= 40 until s = 2
	var in liquidation.PositionInputs
	in.DepositL.SetUint64(10)
	in.BorrowY.SetUint64(40)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetY.Eq(q64(2)), "got %s", p.NetY.Dec())
}

func TestSolve_BothBorrowed(t *testing.T) {
	// 20s >= s^2 + 36 between s = 2 and s = 18
	var in liquidation.PositionInputs
	in.DepositL.SetUint64(10)
	in.BorrowX.SetUint64(1)
	in.BorrowY.SetUint64(36)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetX.Eq(q64(18)), "got %s", p.NetX.Dec())
	assert.True(t, p.NetY.Eq(q64(2)), "got %s", p.NetY.Dec())
}

func TestSolve_BothBorrowedNoHealthyPrice(t *testing.T) {
	// 2s >= s^2 + 36 never holds
	var in liquidation.PositionInputs
	in.DepositL.SetUint64(1)
	in.BorrowX.SetUint64(1)
	in.BorrowY.SetUint64(36)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetX.IsZero())
	assert.True(t, p.NetY.IsZero())
}

func TestSolve_LDebtOnlyHasNoPoint(t *testing.T) {
	var in liquidation.PositionInputs
	in.DepositX.SetUint64(100)
	in.DepositY.SetUint64(100)
	in.BorrowL.SetUint64(50)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetX.IsZero())
	assert.True(t, p.NetY.IsZero())
}

func TestSolve_MaxLTVLowersXPrice(t *testing.T) {
	// 100 * 0.81 >= s^2 until s = 9
	var in liquidation.PositionInputs
	in.DepositY.SetUint64(100)
	in.BorrowX.SetUint64(1)
	p, err := liquidation.Solve(&in, 8100)
	require.NoError(t, err)
	assert.True(t, p.NetX.Eq(q64(9)), "got %s", p.NetX.Dec())
}

func TestSolve_OutOfRangeIsZero(t *testing.T) {
	// Y debt with negligible X collateral would liquidate above the max price.
	var in liquidation.PositionInputs
	in.DepositX.SetUint64(1)
	in.BorrowY.SetAllOne()
	in.BorrowY.Rsh(&in.BorrowY, 1)
	p, err := liquidation.Solve(&in, fullLTV)
	require.NoError(t, err)
	assert.True(t, p.NetY.IsZero())
}

// ============================================================================
// Test: SaturationAmounts and LTV
// ============================================================================

func TestSaturationAmounts(t *testing.T) {
	var in liquidation.PositionInputs
	in.DepositL.SetUint64(1_000)
	in.BorrowX.SetUint64(7)
	in.BorrowY.SetUint64(9)

	var p liquidation.Prices
	p.NetX.Set(q64(4))
	p.NetY.Set(q64(2))

	x, y, err := liquidation.SaturationAmounts(&in, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(28), x.Uint64())
	// 9 / 2 rounds up
	assert.Equal(t, uint64(5), y.Uint64())
}

func TestLTVBps(t *testing.T) {
	var in liquidation.PositionInputs
	in.SqrtPriceQ64.Set(q64(2))
	in.DepositX.SetUint64(10) // 40
	in.DepositL.SetUint64(5)  // 20
	in.BorrowY.SetUint64(30)

	collateral, debt, err := in.CollateralAndDebt()
	require.NoError(t, err)
	assert.Equal(t, uint64(60), collateral.Uint64())
	assert.Equal(t, uint64(30), debt.Uint64())
	ltv, err := liquidation.LTVBps(collateral, debt)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), ltv)
	ltv, err = liquidation.LTVBps(collateral, new(uint256.Int))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ltv)
	ltv, err = liquidation.LTVBps(new(uint256.Int), debt)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), ltv)
}

func TestLTVBps_OverflowIsAnError(t *testing.T) {
	one := uint256.NewInt(1)

	// The bps ratio exceeds uint64.
	_, err := liquidation.LTVBps(one, new(uint256.Int).Lsh(one, 64))
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	// debt * BPS exceeds 256 bits.
	_, err = liquidation.LTVBps(one, new(uint256.Int).SetAllOne())
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}
