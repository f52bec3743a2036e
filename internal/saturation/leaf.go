package saturation

import (
	"github.com/holiman/uint256"
)

// addTrancheToLeaf places tranche tr holding p into leaf l.
func (t *Tree) addTrancheToLeaf(l int, tr Tranche, p SaturationPair) {
	lf := &t.leaves[l]
	lf.sat.Abs.Add(&lf.sat.Abs, &p.Abs)
	lf.sat.Rel.Add(&lf.sat.Rel, &p.Rel)
	wasEmpty := lf.tranches.Len() == 0
	lf.tranches.Insert(int16(tr))
	t.addLeafSat(l, &p.Abs, false)
	if wasEmpty {
		t.markLeaf(l, true)
	}
}

// removeTrancheFromLeaf takes tranche tr holding p out of leaf l.
func (t *Tree) removeTrancheFromLeaf(l int, tr Tranche, p SaturationPair) {
	lf := &t.leaves[l]
	lf.sat.Abs.Sub(&lf.sat.Abs, &p.Abs)
	lf.sat.Rel.Sub(&lf.sat.Rel, &p.Rel)
	lf.tranches.Remove(int16(tr))
	t.addLeafSat(l, &p.Abs, true)
	if lf.tranches.Len() == 0 {
		t.markLeaf(l, false)
	}
}

// TrancheSat returns the aggregate saturation of a tranche.
func (t *Tree) TrancheSat(tr Tranche) SaturationPair {
	return t.trancheSat[tr]
}

// TrancheLeaf returns the leaf a tranche maps to.
func (t *Tree) TrancheLeaf(tr Tranche) (int, bool) {
	l, ok := t.trancheLeaf[tr]
	return l, ok
}

// trancheAccumulator returns the penalty per unit accrued to tr so far.
func (t *Tree) trancheAccumulator(tr Tranche) *uint256.Int {
	st := t.trancheAcc[tr]
	acc := st.accAtJoin.Clone()
	if l, ok := t.trancheLeaf[tr]; ok {
		acc.Add(acc, t.leafAccumulator(l))
		acc.Sub(acc, &st.leafAccAtJoin)
	}
	return acc
}

// setTranchePair replaces the aggregate of tr, moving it between leaves when
// its magnitude changes bucket. Either everything is written or nothing is.
func (t *Tree) setTranchePair(tr Tranche, next SaturationPair) error {
	prev := t.trancheSat[tr]
	oldLeaf, placed := t.trancheLeaf[tr]
	newLeaf := -1
	if !next.IsZero() {
		newLeaf = t.mapper.satToLeaf(&next.Rel)
	}

	// Validate before writing anything.
	if newLeaf >= 0 {
		var leafSat SaturationPair
		if placed && oldLeaf == newLeaf {
			leafSat = t.leaves[newLeaf].sat
			leafSat.Abs.Sub(&leafSat.Abs, &prev.Abs)
			leafSat.Rel.Sub(&leafSat.Rel, &prev.Rel)
		} else {
			leafSat = t.leaves[newLeaf].sat
		}
		if _, err := leafSat.add(next); err != nil {
			return err
		}
		total := new(uint256.Int).Sub(&t.totalSatAbs, &prev.Abs)
		if _, overflow := total.AddOverflow(total, &next.Abs); overflow {
			return ErrArithmeticOverflow
		}
	}

	if placed && oldLeaf == newLeaf {
		lf := &t.leaves[newLeaf]
		lf.sat.Abs.Sub(&lf.sat.Abs, &prev.Abs)
		lf.sat.Rel.Sub(&lf.sat.Rel, &prev.Rel)
		lf.sat.Abs.Add(&lf.sat.Abs, &next.Abs)
		lf.sat.Rel.Add(&lf.sat.Rel, &next.Rel)
		t.addLeafSat(newLeaf, &prev.Abs, true)
		t.addLeafSat(newLeaf, &next.Abs, false)
		t.trancheSat[tr] = next
		return nil
	}

	acc := t.trancheAccumulator(tr)
	if placed {
		t.removeTrancheFromLeaf(oldLeaf, tr, prev)
		delete(t.trancheLeaf, tr)
	}
	if newLeaf < 0 {
		delete(t.trancheSat, tr)
		t.trancheAcc[tr] = trancheAccrual{accAtJoin: *acc}
		return nil
	}
	t.addTrancheToLeaf(newLeaf, tr, next)
	t.trancheLeaf[tr] = newLeaf
	t.trancheSat[tr] = next
	t.trancheAcc[tr] = trancheAccrual{accAtJoin: *acc, leafAccAtJoin: *t.leafAccumulator(newLeaf)}
	return nil
}
