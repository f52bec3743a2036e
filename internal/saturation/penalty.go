package saturation

import (
	"fmt"

	fpmath "SatLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// InterestModel maps a utilization in WAD to an annual rate in WAD.
type InterestModel interface {
	Rate(utilizationWad *uint256.Int) (*uint256.Int, error)
}

// pendingEntryPenalty is ceil((acc - checkpoint) * abs / WAD) for one entry.
func (t *Tree) pendingEntryPenalty(tr Tranche, e *SaturationPair, checkpoint *uint256.Int) (*uint256.Int, error) {
	acc := t.trancheAccumulator(tr)
	delta, err := fpmath.Sub(acc, checkpoint)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %s tranche %d accumulator went backwards", t.dir, tr))
	}
	if delta.IsZero() || e.Abs.IsZero() {
		return new(uint256.Int), nil
	}
	return fpmath.MulDiv(delta, &e.Abs, fpmath.WAD, fpmath.RoundUp)
}

// pendingAccountPenalty returns what an account owes since its checkpoints
// and the checkpoints it would move to. Nothing is written.
func (t *Tree) pendingAccountPenalty(a *Account) (*uint256.Int, []uint256.Int, error) {
	owed := new(uint256.Int)
	checkpoints := make([]uint256.Int, len(a.Checkpoints))
	for i := range a.Entries {
		tr := a.TrancheAt(t.dir, i)
		p, err := t.pendingEntryPenalty(tr, &a.Entries[i], &a.Checkpoints[i])
		if err != nil {
			return nil, nil, err
		}
		if owed, err = fpmath.Add(owed, p); err != nil {
			return nil, nil, err
		}
		checkpoints[i].Set(t.trancheAccumulator(tr))
	}
	return owed, checkpoints, nil
}

// accrualPlan is the penalty pass for one tree, computed before any write.
type accrualPlan struct {
	tree     *Tree
	lo, hi   int
	satAbove *uint256.Int
	amount   *uint256.Int
}

// planAccrual returns nil when no saturation sits at or above the threshold.
func (t *Tree) planAccrual(thresholdLeaf int) *accrualPlan {
	hi := t.highestLeaf
	if hi == NoLeaf || hi < thresholdLeaf {
		return nil
	}
	satAbove := t.sumSatRange(thresholdLeaf, hi)
	if satAbove.IsZero() {
		return nil
	}
	return &accrualPlan{tree: t, lo: thresholdLeaf, hi: hi, satAbove: satAbove}
}

// price sets the pool amount of the plan and checks the accumulators can
// absorb perUnit.
func (p *accrualPlan) price(perUnit *uint256.Int) error {
	if _, overflow := new(uint256.Int).AddOverflow(&p.tree.penaltyTotal, perUnit); overflow {
		return fmt.Errorf("%s penalty accumulator: %w", p.tree.dir, ErrArithmeticOverflow)
	}
	amount, err := fpmath.MulDiv(p.satAbove, perUnit, fpmath.WAD, fpmath.RoundUp)
	if err != nil {
		return fmt.Errorf("%s penalty amount: %w", p.tree.dir, err)
	}
	p.amount = amount
	return nil
}

// targetUtilization lowers the full-utilization target by saturation pressure
// and idle room. Below the floor the target is zero.
func (s *Saturation) targetUtilization(u *UtilizationInputs) (*uint256.Int, error) {
	idle := fpmath.SaturatingSub(fpmath.WAD, &u.PoolUtilizationWad)
	satPart, err := fpmath.MulDiv(&u.SaturationUtilizationWad, &s.params.SaturationWeightWad, fpmath.WAD, fpmath.RoundUp)
	if err != nil {
		return nil, err
	}
	idlePart, err := fpmath.MulDiv(idle, &s.params.IdleWeightWad, fpmath.WAD, fpmath.RoundUp)
	if err != nil {
		return nil, err
	}
	target := fpmath.SaturatingSub(fpmath.SaturatingSub(fpmath.WAD, satPart), idlePart)
	if target.Lt(&s.params.TargetUtilizationFloorWad) {
		return new(uint256.Int), nil
	}
	return target, nil
}

// penaltyPerUnit compounds the curve rate at the target utilization over
// durationSeconds.
func (s *Saturation) penaltyPerUnit(durationSeconds uint64, u *UtilizationInputs) (*uint256.Int, error) {
	target, err := s.targetUtilization(u)
	if err != nil {
		return nil, err
	}
	rate, err := s.model.Rate(fpmath.SaturatingSub(fpmath.WAD, target))
	if err != nil {
		return nil, fmt.Errorf("penalty rate: %w", err)
	}
	return fpmath.CompoundFactor(rate, durationSeconds)
}

// penaltyThreshold is the first leaf charged for the given pool balances.
func (s *Saturation) penaltyThreshold(u *UtilizationInputs) int {
	base := new(uint256.Int).Add(&u.ExternalLiquidity, &u.DepositedL)
	if base.Lt(&u.ExternalLiquidity) {
		base.SetAllOne()
	}
	base = fpmath.SaturatingSub(base, &u.BorrowedL)
	return s.mapper.thresholdLeaf(base, s.params.PenaltyStartRatioBps)
}

// AccruePenalties charges every leaf from the threshold up to the highest
// occupied leaf, in both trees, for durationSeconds. It returns the total
// penalty owed to the pool. With nothing at or above the threshold the result
// is exactly zero and no accumulator moves.
func (s *Saturation) AccruePenalties(durationSeconds uint64, u UtilizationInputs) (*uint256.Int, error) {
	total := new(uint256.Int)
	if durationSeconds == 0 {
		return total, nil
	}
	threshold := s.penaltyThreshold(&u)

	plans := make([]*accrualPlan, 0, 2)
	for _, t := range s.trees() {
		if plan := t.planAccrual(threshold); plan != nil {
			plans = append(plans, plan)
		}
	}
	if len(plans) == 0 {
		return total, nil
	}

	perUnit, err := s.penaltyPerUnit(durationSeconds, &u)
	if err != nil {
		return nil, err
	}
	if perUnit.IsZero() {
		return total, nil
	}
	for _, plan := range plans {
		if err := plan.price(perUnit); err != nil {
			return nil, err
		}
		if total, err = fpmath.Add(total, plan.amount); err != nil {
			return nil, fmt.Errorf("pool penalty: %w", err)
		}
	}

	for _, plan := range plans {
		plan.tree.addPenaltyRange(plan.lo, plan.hi, perUnit)
		s.log.Debug().
			Str("tree", plan.tree.dir.String()).
			Int("threshold_leaf", plan.lo).
			Int("highest_leaf", plan.hi).
			Str("sat_above", plan.satAbove.Dec()).
			Str("per_unit", perUnit.Dec()).
			Str("amount", plan.amount.Dec()).
			Msg("penalty accrued")
	}
	return total, nil
}

// AccrueAccountPenalty realizes everything the account owes across both trees
// and returns it. The owed balance is cleared, so an immediate second call
// returns zero.
func (s *Saturation) AccrueAccountPenalty(account uuid.UUID) (*uint256.Int, error) {
	if account == uuid.Nil {
		return nil, ErrInvalidIdentity
	}
	total := new(uint256.Int)
	type pending struct {
		a           *Account
		checkpoints []uint256.Int
	}
	updates := make([]pending, 0, 2)
	for _, t := range s.trees() {
		a, ok := t.accounts[account]
		if !ok {
			continue
		}
		owed, checkpoints, err := t.pendingAccountPenalty(a)
		if err != nil {
			return nil, err
		}
		if owed, err = fpmath.Add(owed, &a.AccruedPenalty); err != nil {
			return nil, err
		}
		if total, err = fpmath.Add(total, owed); err != nil {
			return nil, err
		}
		updates = append(updates, pending{a: a, checkpoints: checkpoints})
	}
	if unpaid, ok := s.unpaid[account]; ok {
		var err error
		if total, err = fpmath.Add(total, &unpaid); err != nil {
			return nil, err
		}
	}

	for _, p := range updates {
		p.a.Checkpoints = p.checkpoints
		p.a.AccruedPenalty.Clear()
	}
	delete(s.unpaid, account)
	return total, nil
}
