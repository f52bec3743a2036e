package saturation

import (
	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
)

// Portion is a weighted prefix of an account's entries against the whole.
type Portion struct {
	PartialBorrow  uint256.Int
	TotalBorrow    uint256.Int
	PartialDeposit uint256.Int
	TotalDeposit   uint256.Int
}

// FullPortion is the 1:1 ratio.
func FullPortion() Portion {
	var p Portion
	p.PartialBorrow.SetOne()
	p.TotalBorrow.SetOne()
	p.PartialDeposit.SetOne()
	p.TotalDeposit.SetOne()
	return p
}

// PartialLiquidationPortion weighs entries from the most extreme tranche
// toward the current price, each weight the previous divided by the decay
// factor. Borrow weighs absolute saturation and deposit weighs relative
// saturation. The partial sums are captured at the first entry where the
// running absolute total reaches repaid.
func PartialLiquidationPortion(entries []SaturationPair, repaid, decayQ64 *uint256.Int) (Portion, error) {
	if len(entries) <= 1 {
		return FullPortion(), nil
	}
	var out Portion
	weight := fpmath.Q64.Clone()
	cumulative := new(uint256.Int)
	captured := false
	for i := range entries {
		e := &entries[i]
		wb, err := fpmath.Mul(&e.Abs, weight)
		if err != nil {
			return out, err
		}
		wd, err := fpmath.Mul(&e.Rel, weight)
		if err != nil {
			return out, err
		}
		if _, overflow := out.TotalBorrow.AddOverflow(&out.TotalBorrow, wb); overflow {
			return out, ErrArithmeticOverflow
		}
		if _, overflow := out.TotalDeposit.AddOverflow(&out.TotalDeposit, wd); overflow {
			return out, ErrArithmeticOverflow
		}
		cumulative.Add(cumulative, &e.Abs)
		if !captured && !cumulative.Lt(repaid) {
			out.PartialBorrow.Set(&out.TotalBorrow)
			out.PartialDeposit.Set(&out.TotalDeposit)
			captured = true
		}
		if weight, err = fpmath.MulDiv(weight, fpmath.Q64, decayQ64, fpmath.RoundDown); err != nil {
			return out, err
		}
	}
	if !captured {
		out.PartialBorrow.Set(&out.TotalBorrow)
		out.PartialDeposit.Set(&out.TotalDeposit)
	}
	return out, nil
}

// BorrowRatioWad returns PartialBorrow / TotalBorrow in WAD.
func (p *Portion) BorrowRatioWad() (*uint256.Int, error) {
	return ratioWad(&p.PartialBorrow, &p.TotalBorrow)
}

// DepositRatioWad returns PartialDeposit / TotalDeposit in WAD.
func (p *Portion) DepositRatioWad() (*uint256.Int, error) {
	return ratioWad(&p.PartialDeposit, &p.TotalDeposit)
}

func ratioWad(partial, total *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return fpmath.WAD.Clone(), nil
	}
	return fpmath.MulDiv(partial, fpmath.WAD, total, fpmath.RoundUp)
}
