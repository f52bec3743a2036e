package saturation

import (
	"fmt"

	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
)

// placement is where a position's saturation starts and how the first
// tranche's capacity is scaled.
type placement struct {
	start    Tranche
	quarters uint64
}

// firstTranche locates the tranche holding the liquidation price and the
// quarters of it that lie between the liquidation point and the current price.
// A liquidation point within the first quarter starts one tranche further
// along with full capacity.
func (t *Tree) firstTranche(liqSqrtPrice *uint256.Int) placement {
	tick := t.mapper.prices.TickAtSqrtPrice(liqSqrtPrice)
	tr := TrancheOfTick(tick)
	var inside int32
	if t.dir == NetX {
		inside = tick - tr.LowerTick()
	} else {
		inside = tr.LowerTick() + TickSpacing - tick
	}
	quarters := uint64(inside) * QuartersPerTranche / uint64(TickSpacing)
	if quarters == 0 {
		return placement{start: tr + Tranche(t.dir), quarters: QuartersPerTranche}
	}
	return placement{start: tr, quarters: quarters}
}

// TranchePriceRange returns the sqrt prices at the lower and upper tick of tr.
func (t *Tree) TranchePriceRange(tr Tranche) (lower, upper *uint256.Int) {
	pm := t.mapper.prices
	return pm.SqrtPriceAtTick(tr.LowerTick()), pm.SqrtPriceAtTick(tr.LowerTick() + TickSpacing)
}

// trancheCapacity is activeLiquidity * ratio, scaled by quarters/4.
func trancheCapacity(activeLiquidity, userSatRatioWad *uint256.Int, quarters uint64) (*uint256.Int, error) {
	full, err := fpmath.MulDiv(activeLiquidity, userSatRatioWad, fpmath.WAD, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	if quarters == QuartersPerTranche {
		return full, nil
	}
	return fpmath.MulDiv(full, uint256.NewInt(quarters), uint256.NewInt(QuartersPerTranche), fpmath.RoundDown)
}

// distributeParams are the inputs of one placement.
type distributeParams struct {
	satAbs          *uint256.Int
	liqSqrtPrice    *uint256.Int
	activeLiquidity *uint256.Int
	userSatRatioWad *uint256.Int
	decayQ64        *uint256.Int
	maxTranches     int
}

// planDistribution spreads satAbs over consecutive tranches starting at the
// liquidation tranche and walking toward the current price. Each tranche takes
// what fits under its capacity; the relative demand left over is divided by the
// decay factor before the next tranche. Absolute amounts keep the ratio of
// absolute to relative demand and the last tranche takes the exact remainder.
func (t *Tree) planDistribution(p distributeParams) (Tranche, []SaturationPair, error) {
	pl := t.firstTranche(p.liqSqrtPrice)
	fullCap, err := trancheCapacity(p.activeLiquidity, p.userSatRatioWad, QuartersPerTranche)
	if err != nil {
		return 0, nil, err
	}

	remAbs := p.satAbs.Clone()
	remRel := p.satAbs.Clone()
	entries := make([]SaturationPair, 0, 4)
	tr := pl.start

	for i := 0; !remAbs.IsZero(); i++ {
		if i >= p.maxTranches || !tr.valid() {
			break
		}
		capacity := fullCap
		if i == 0 {
			if capacity, err = trancheCapacity(p.activeLiquidity, p.userSatRatioWad, pl.quarters); err != nil {
				return 0, nil, err
			}
		}
		occupied := t.trancheSat[tr]
		avail := fpmath.SaturatingSub(capacity, &occupied.Rel)

		var take SaturationPair
		if !remRel.Gt(avail) {
			take.Abs.Set(remAbs)
			take.Rel.Set(remRel)
			remAbs.Clear()
			remRel.Clear()
		} else {
			absTake, err := fpmath.MulDiv(remAbs, avail, remRel, fpmath.RoundDown)
			if err != nil {
				return 0, nil, err
			}
			take.Abs.Set(absTake)
			take.Rel.Set(avail)
			remAbs.Sub(remAbs, absTake)
			remRel.Sub(remRel, avail)
			if remRel, err = fpmath.MulDiv(remRel, fpmath.Q64, p.decayQ64, fpmath.RoundDown); err != nil {
				return 0, nil, err
			}
		}
		entries = append(entries, take)
		tr += Tranche(t.dir)
	}

	if !remAbs.IsZero() {
		return 0, nil, fmt.Errorf("%s: %s saturation left after %d tranches: %w",
			t.dir, remAbs.Dec(), len(entries), ErrCapacityExceeded)
	}
	return pl.start, entries, nil
}

// insertAccount places a planned account into the tree. Tranches that land
// above ceilingLeaf fail the whole update.
func (t *Tree) insertAccount(j *journal, a *Account, ceilingLeaf int) error {
	for i := range a.Entries {
		e := a.Entries[i]
		if e.IsZero() {
			continue
		}
		tr := a.TrancheAt(t.dir, i)
		next, err := t.trancheSat[tr].add(e)
		if err != nil {
			return fmt.Errorf("%s tranche %d: %w", t.dir, tr, err)
		}
		if err := j.setTranchePair(t, tr, next); err != nil {
			return fmt.Errorf("%s tranche %d: %w", t.dir, tr, err)
		}
		if l := t.trancheLeaf[tr]; l > ceilingLeaf {
			return fmt.Errorf("%s tranche %d reaches leaf %d above ceiling %d: %w",
				t.dir, tr, l, ceilingLeaf, ErrCapacityExceeded)
		}
	}
	a.Checkpoints = make([]uint256.Int, len(a.Entries))
	for i := range a.Entries {
		a.Checkpoints[i].Set(t.trancheAccumulator(a.TrancheAt(t.dir, i)))
	}
	a.Exists = true
	return nil
}

// removeAccount takes an account's entries out of the tree, realizing any
// pending penalty first. It returns the account's unclaimed penalty.
func (t *Tree) removeAccount(j *journal, a *Account) (*uint256.Int, error) {
	owed := a.AccruedPenalty.Clone()
	for i := range a.Entries {
		e := a.Entries[i]
		if e.IsZero() {
			continue
		}
		tr := a.TrancheAt(t.dir, i)
		p, err := t.pendingEntryPenalty(tr, &e, &a.Checkpoints[i])
		if err != nil {
			return nil, err
		}
		if owed, err = fpmath.Add(owed, p); err != nil {
			return nil, err
		}
		next, err := t.trancheSat[tr].sub(e)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %s tranche %d holds less than its account entry", t.dir, tr))
		}
		if err := j.setTranchePair(t, tr, next); err != nil {
			return nil, err
		}
	}
	return owed, nil
}
