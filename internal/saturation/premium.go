package saturation

import (
	"fmt"
	"math"

	"SatLedger/internal/liquidation"
	fpmath "SatLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// RepaidInputs is the debt a liquidator repays, in token units.
type RepaidInputs struct {
	RepaidX uint256.Int
	RepaidY uint256.Int
}

// Premium is the outcome of a hard liquidation quote.
type Premium struct {
	PremiumBps  uint64
	LTVBps      uint64
	FullySeized bool
}

// portion weighs the account's entries in t against repaidSat.
func (s *Saturation) portion(t *Tree, account uuid.UUID, repaidSat *uint256.Int) (Portion, bool, error) {
	a, ok := t.accounts[account]
	if !ok {
		return FullPortion(), false, nil
	}
	p, err := PartialLiquidationPortion(a.Entries, repaidSat, &s.params.DecayQ64)
	return p, true, err
}

// CalcHardLiquidationPremium quotes the premium for repaying part of an
// account's debt. Borrows and deposits of a copy of the inputs are scaled
// by the portion of the account's saturation the repayment covers; the tree
// is never written.
func (s *Saturation) CalcHardLiquidationPremium(account uuid.UUID, in liquidation.PositionInputs, repaid RepaidInputs) (Premium, error) {
	var out Premium
	if account == uuid.Nil {
		return out, ErrInvalidIdentity
	}
	prices, err := liquidation.Solve(&in, s.params.MaxLTVBps)
	if err != nil {
		return out, err
	}
	var repaidIn liquidation.PositionInputs
	repaidIn.BorrowX.Set(&repaid.RepaidX)
	repaidIn.BorrowY.Set(&repaid.RepaidY)
	repaidX, repaidY, err := liquidation.SaturationAmounts(&repaidIn, prices)
	if err != nil {
		return out, err
	}

	px, inX, err := s.portion(s.netX, account, repaidX)
	if err != nil {
		return out, err
	}
	py, inY, err := s.portion(s.netY, account, repaidY)
	if err != nil {
		return out, err
	}

	scratch := in
	borrowX, err := px.BorrowRatioWad()
	if err != nil {
		return out, err
	}
	borrowY, err := py.BorrowRatioWad()
	if err != nil {
		return out, err
	}
	// Deposits and L debt follow the side that seizes the larger share.
	deposit := fpmath.WAD.Clone()
	if inX || inY {
		deposit.Clear()
		for _, side := range []struct {
			p  *Portion
			in bool
		}{{&px, inX}, {&py, inY}} {
			if !side.in {
				continue
			}
			r, err := side.p.DepositRatioWad()
			if err != nil {
				return out, err
			}
			deposit = fpmath.Max(deposit, r)
		}
	}
	for _, f := range []struct {
		v     *uint256.Int
		ratio *uint256.Int
		mode  fpmath.RoundingMode
	}{
		{&scratch.BorrowX, borrowX, fpmath.RoundUp},
		{&scratch.BorrowY, borrowY, fpmath.RoundUp},
		{&scratch.BorrowL, deposit, fpmath.RoundUp},
		{&scratch.DepositL, deposit, fpmath.RoundDown},
		{&scratch.DepositX, deposit, fpmath.RoundDown},
		{&scratch.DepositY, deposit, fpmath.RoundDown},
	} {
		v, err := fpmath.MulDiv(f.v, f.ratio, fpmath.WAD, f.mode)
		if err != nil {
			return out, err
		}
		f.v.Set(v)
	}

	collateral, debt, err := scratch.CollateralAndDebt()
	if err != nil {
		return out, err
	}
	if out.LTVBps, err = liquidation.LTVBps(collateral, debt); err != nil {
		return out, err
	}
	out.PremiumBps = s.premiumAt(out.LTVBps)
	if out.FullySeized, err = fullySeized(collateral, debt, out.PremiumBps); err != nil {
		return out, err
	}
	return out, nil
}

// fullySeized reports whether debt plus premium covers all collateral.
func fullySeized(collateral, debt *uint256.Int, premiumBps uint64) (bool, error) {
	if debt.IsZero() {
		return false, nil
	}
	owed, err := fpmath.MulDiv(debt, uint256.NewInt(fpmath.BPS+premiumBps), fpmath.BPSInt, fpmath.RoundUp)
	if err != nil {
		return false, fmt.Errorf("owed with %d bps premium: %w", premiumBps, err)
	}
	return !owed.Lt(collateral), nil
}

// premiumAt ramps linearly between the start and full LTV.
func (s *Saturation) premiumAt(ltvBps uint64) uint64 {
	p := &s.params
	switch {
	case ltvBps <= p.PremiumStartLTVBps:
		return 0
	case ltvBps >= p.PremiumFullLTVBps:
		return p.MaxPremiumBps
	}
	return p.MaxPremiumBps * (ltvBps - p.PremiumStartLTVBps) / (p.PremiumFullLTVBps - p.PremiumStartLTVBps)
}

// CalcSaturationChangeRatio reports, per tree, how full the first tranche of
// a hypothetical placement would be: (saturation already there from other
// accounts + the new demand) / first-tranche capacity, in bps. Sides without
// a liquidation point report zero.
func (s *Saturation) CalcSaturationChangeRatio(account uuid.UUID, in liquidation.PositionInputs, userSatRatioWad *uint256.Int) (netXBps, netYBps uint64, err error) {
	if account == uuid.Nil {
		return 0, 0, ErrInvalidIdentity
	}
	prices, err := liquidation.Solve(&in, s.params.MaxLTVBps)
	if err != nil {
		return 0, 0, err
	}
	satX, satY, err := liquidation.SaturationAmounts(&in, prices)
	if err != nil {
		return 0, 0, err
	}
	if netXBps, err = s.changeRatio(s.netX, account, satX, &prices.NetX, &in.ActiveLiquidity, userSatRatioWad); err != nil {
		return 0, 0, err
	}
	if netYBps, err = s.changeRatio(s.netY, account, satY, &prices.NetY, &in.ActiveLiquidity, userSatRatioWad); err != nil {
		return 0, 0, err
	}
	return netXBps, netYBps, nil
}

func (s *Saturation) changeRatio(t *Tree, account uuid.UUID, sat, price, activeLiquidity, userSatRatioWad *uint256.Int) (uint64, error) {
	if sat.IsZero() || price.IsZero() {
		return 0, nil
	}
	pl := t.firstTranche(price)
	capacity, err := trancheCapacity(activeLiquidity, userSatRatioWad, pl.quarters)
	if err != nil {
		return 0, err
	}
	occupied := t.trancheSat[pl.start].Rel
	if a, ok := t.accounts[account]; ok {
		i := (int(pl.start) - int(a.StartTranche)) * int(t.dir)
		if i >= 0 && i < len(a.Entries) {
			occupied.Sub(&occupied, &a.Entries[i].Rel)
		}
	}
	demand, err := fpmath.Add(&occupied, sat)
	if err != nil {
		return 0, err
	}
	return fillBps(demand, capacity)
}

// fillBps is demand/capacity in bps, math.MaxUint64 for zero capacity.
func fillBps(demand, capacity *uint256.Int) (uint64, error) {
	if capacity.IsZero() {
		return math.MaxUint64, nil
	}
	r, err := fpmath.MulDiv(demand, fpmath.BPSInt, capacity, fpmath.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("fill ratio: %w", err)
	}
	if !r.IsUint64() {
		return 0, fmt.Errorf("fill ratio %s bps: %w", r.Dec(), fpmath.ErrOverflow)
	}
	return r.Uint64(), nil
}
