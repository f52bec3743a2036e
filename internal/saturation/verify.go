package saturation

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Verify recomputes the cached aggregates of t from its leaves and reports
// the first mismatch. It walks every leaf, so callers run it periodically.
func (t *Tree) Verify() error {
	want := NoLeaf
	for l := LeafCount - 1; l >= 0; l-- {
		if t.leaves[l].tranches.Len() > 0 {
			want = l
			break
		}
	}
	if want != t.highestLeaf {
		return fmt.Errorf("%s: cached highest leaf %d, actual %d", t.dir, t.highestLeaf, want)
	}

	// Rebuild level sums bottom-up from the leaves.
	sums := make([]uint256.Int, levelSize[TreeLevels-1])
	occupied := make([]uint16, levelSize[TreeLevels-1])
	for l := range t.leaves {
		idx, pos := leafPath(l, TreeLevels-1)
		sums[idx].Add(&sums[idx], &t.leaves[l].sat.Abs)
		if t.leaves[l].tranches.Len() > 0 {
			occupied[idx] |= 1 << uint(pos)
		}
	}
	for level := TreeLevels - 1; level >= 0; level-- {
		for idx := range t.levels[level] {
			n := &t.levels[level][idx]
			if n.bits != occupied[idx] {
				return fmt.Errorf("%s: level %d node %d bits %016b, actual %016b", t.dir, level, idx, n.bits, occupied[idx])
			}
			if !n.satAbs.Eq(&sums[idx]) {
				return fmt.Errorf("%s: level %d node %d sum %s, actual %s", t.dir, level, idx, n.satAbs.Dec(), sums[idx].Dec())
			}
		}
		if level == 0 {
			break
		}
		parentSums := make([]uint256.Int, levelSize[level-1])
		parentBits := make([]uint16, levelSize[level-1])
		for idx := range sums {
			p := idx >> nodeShift
			parentSums[p].Add(&parentSums[p], &sums[idx])
			if occupied[idx] != 0 {
				parentBits[p] |= 1 << uint(idx&(NodeWidth-1))
			}
		}
		sums, occupied = parentSums, parentBits
	}
	if !sums[0].Eq(&t.totalSatAbs) {
		return fmt.Errorf("%s: cached total %s, actual %s", t.dir, t.totalSatAbs.Dec(), sums[0].Dec())
	}

	members := 0
	for l := range t.leaves {
		for _, id := range t.leaves[l].tranches.Values() {
			if got, ok := t.trancheLeaf[Tranche(id)]; !ok || got != l {
				return fmt.Errorf("%s: leaf %d lists tranche %d, which is not placed there", t.dir, l, id)
			}
			members++
		}
	}
	if members != len(t.trancheLeaf) {
		return fmt.Errorf("%s: leaves list %d tranches, %d placed", t.dir, members, len(t.trancheLeaf))
	}
	for tr, l := range t.trancheLeaf {
		if !t.leaves[l].tranches.Contains(int16(tr)) {
			return fmt.Errorf("%s: tranche %d missing from leaf %d", t.dir, tr, l)
		}
		p := t.trancheSat[tr]
		if got := t.mapper.satToLeaf(&p.Rel); got != l {
			return fmt.Errorf("%s: tranche %d sits in leaf %d, maps to %d", t.dir, tr, l, got)
		}
	}
	return nil
}

// Verify checks both trees.
func (s *Saturation) Verify() error {
	for _, t := range s.trees() {
		if err := t.Verify(); err != nil {
			return err
		}
	}
	return nil
}
