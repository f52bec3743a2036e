package saturation

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkTree compares every cached aggregate against a brute-force scan.
func checkTree(t *testing.T, tr *Tree) {
	t.Helper()

	occupied := func(l int) bool { return tr.leaves[l].tranches.Len() > 0 }

	want := NoLeaf
	for l := LeafCount - 1; l >= 0; l-- {
		if occupied(l) {
			want = l
			break
		}
	}
	require.Equal(t, want, tr.highestLeaf, "cached highest leaf")

	total := new(uint256.Int)
	for level := 0; level < TreeLevels; level++ {
		span := nodeSpan(level)
		childSpan := span / NodeWidth
		for idx := range tr.levels[level] {
			n := &tr.levels[level][idx]
			sum := new(uint256.Int)
			for c := 0; c < NodeWidth; c++ {
				hasOccupied := false
				first := idx*span + c*childSpan
				for l := first; l < first+childSpan; l++ {
					if occupied(l) {
						hasOccupied = true
					}
					sum.Add(sum, &tr.leaves[l].sat.Abs)
				}
				bit := n.bits&(1<<uint(c)) != 0
				require.Equal(t, hasOccupied, bit, "level %d node %d child %d", level, idx, c)
			}
			require.True(t, sum.Eq(&n.satAbs), "level %d node %d sum", level, idx)
			if level == 0 {
				total.Add(total, sum)
			}
		}
	}
	require.True(t, total.Eq(&tr.totalSatAbs), "tree total")

	for tranche, l := range tr.trancheLeaf {
		require.True(t, tr.leaves[l].tranches.Contains(int16(tranche)))
		p := tr.trancheSat[tranche]
		require.Equal(t, SatToLeaf(&p.Rel), l)
	}
}

func pair(abs, rel uint64) SaturationPair {
	var p SaturationPair
	p.Abs.SetUint64(abs)
	p.Rel.SetUint64(rel)
	return p
}

// ============================================================================
// Test: occupancy bitmap and highest leaf
// ============================================================================

func TestTree_EmptyHasNoLeaf(t *testing.T) {
	tr := NewTree(NetY)
	assert.Equal(t, NoLeaf, tr.HighestLeaf())
	assert.Equal(t, NoLeaf, tr.findHighestOccupiedLeaf())
	checkTree(t, tr)
}

func TestTree_RandomMutationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := NewTree(NetX)

	for step := 0; step < 600; step++ {
		tranche := Tranche(rng.Intn(64) - 32)
		var next SaturationPair
		if rng.Intn(3) > 0 {
			// Spread magnitudes over most of the leaf range.
			rel := uint64(1) << uint(rng.Intn(63))
			rel += uint64(rng.Int63n(int64(rel/2 + 1)))
			next = pair(rel/2+1, rel)
		}
		require.NoError(t, tr.setTranchePair(tranche, next))
		checkTree(t, tr)
		require.NoError(t, tr.Verify())
	}

	// Drain everything.
	for tranche := range tr.trancheSat {
		require.NoError(t, tr.setTranchePair(tranche, SaturationPair{}))
	}
	checkTree(t, tr)
	assert.Equal(t, NoLeaf, tr.HighestLeaf())
	assert.True(t, tr.totalSatAbs.IsZero())
}

func TestTree_SetOrClearBitStopsEarly(t *testing.T) {
	tr := NewTree(NetY)
	tr.setOrClearBit(TreeLevels-1, 0, 3, true)
	tr.setOrClearBit(TreeLevels-1, 0, 5, true)
	assert.Equal(t, uint16(1<<3|1<<5), tr.levels[2][0].bits)
	assert.Equal(t, uint16(1), tr.levels[1][0].bits)
	assert.Equal(t, uint16(1), tr.levels[0][0].bits)

	tr.setOrClearBit(TreeLevels-1, 0, 3, false)
	assert.Equal(t, uint16(1), tr.levels[1][0].bits, "sibling still set")

	tr.setOrClearBit(TreeLevels-1, 0, 5, false)
	assert.Zero(t, tr.levels[1][0].bits)
	assert.Zero(t, tr.levels[0][0].bits)
}

// ============================================================================
// Test: range operations
// ============================================================================

func TestTree_RangeOpsMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tr := NewTree(NetY)
	for i := 0; i < 200; i++ {
		rel := uint64(1) << uint(20+rng.Intn(43))
		require.NoError(t, tr.setTranchePair(Tranche(i), pair(rel, rel)))
	}

	for i := 0; i < 100; i++ {
		lo := rng.Intn(LeafCount)
		hi := lo + rng.Intn(LeafCount-lo)

		want := new(uint256.Int)
		for l := lo; l <= hi; l++ {
			want.Add(want, &tr.leaves[l].sat.Abs)
		}
		require.True(t, want.Eq(tr.sumSatRange(lo, hi)), "sum [%d, %d]", lo, hi)

		before := make([]*uint256.Int, LeafCount)
		for l := range before {
			before[l] = tr.leafAccumulator(l)
		}
		perUnit := uint256.NewInt(uint64(rng.Intn(1000) + 1))
		tr.addPenaltyRange(lo, hi, perUnit)
		for l := 0; l < LeafCount; l++ {
			got := tr.leafAccumulator(l)
			exp := before[l].Clone()
			if l >= lo && l <= hi {
				exp.Add(exp, perUnit)
			}
			require.True(t, exp.Eq(got), "leaf %d after adding to [%d, %d]", l, lo, hi)
		}
	}
}

// ============================================================================
// Test: tranche accumulator across leaf moves
// ============================================================================

func TestTree_TrancheAccumulatorSurvivesLeafMove(t *testing.T) {
	tr := NewTree(NetY)
	require.NoError(t, tr.setTranchePair(5, pair(1<<30, 1<<30)))
	l0 := tr.trancheLeaf[5]

	tr.addPenaltyRange(l0, l0, uint256.NewInt(700))
	require.Equal(t, uint64(700), tr.trancheAccumulator(5).Uint64())

	// Growing the tranche moves it to a higher leaf with a different path sum.
	tr.addPenaltyRange(0, LeafCount-1, uint256.NewInt(5))
	tr.addPenaltyRange(l0+1, LeafCount-1, uint256.NewInt(40))
	require.NoError(t, tr.setTranchePair(5, pair(1<<40, 1<<40)))
	require.Greater(t, tr.trancheLeaf[5], l0)
	assert.Equal(t, uint64(705), tr.trancheAccumulator(5).Uint64())

	tr.addPenaltyRange(tr.trancheLeaf[5], tr.trancheLeaf[5], uint256.NewInt(10))
	assert.Equal(t, uint64(715), tr.trancheAccumulator(5).Uint64())

	// Emptying freezes the accumulator.
	require.NoError(t, tr.setTranchePair(5, SaturationPair{}))
	tr.addPenaltyRange(0, LeafCount-1, uint256.NewInt(99))
	assert.Equal(t, uint64(715), tr.trancheAccumulator(5).Uint64())
	checkTree(t, tr)
}

func TestTree_SetTranchePairOverflowLeavesStateUntouched(t *testing.T) {
	tr := NewTree(NetX)
	var half SaturationPair
	half.Abs.Lsh(uint256.NewInt(1), 127)
	half.Rel.Set(&half.Abs)
	require.NoError(t, tr.setTranchePair(1, half))
	// Both would sit in the last leaf, whose aggregate must fit in 128 bits.
	err := tr.setTranchePair(2, half)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	_, placed := tr.trancheLeaf[2]
	assert.False(t, placed)
	checkTree(t, tr)
}

func TestTree_VerifyDetectsCorruption(t *testing.T) {
	tr := NewTree(NetY)
	require.NoError(t, tr.setTranchePair(3, pair(1<<40, 1<<40)))
	require.NoError(t, tr.Verify())

	l := tr.trancheLeaf[3]
	idx, pos := leafPath(l, TreeLevels-1)
	tr.levels[TreeLevels-1][idx].bits &^= 1 << uint(pos)
	assert.Error(t, tr.Verify())
	tr.levels[TreeLevels-1][idx].bits |= 1 << uint(pos)

	tr.totalSatAbs.AddUint64(&tr.totalSatAbs, 1)
	assert.Error(t, tr.Verify())
	tr.totalSatAbs.SubUint64(&tr.totalSatAbs, 1)

	tr.highestLeaf = NoLeaf
	assert.Error(t, tr.Verify())
}

func TestTree_VerifyDetectsStrayLeafMember(t *testing.T) {
	tr := NewTree(NetY)
	require.NoError(t, tr.setTranchePair(3, pair(1<<40, 1<<40)))
	l := tr.trancheLeaf[3]

	// A tranche listed in a leaf it was never placed in.
	tr.leaves[l].tranches.Insert(9)
	assert.ErrorContains(t, tr.Verify(), "lists tranche 9")
	tr.leaves[l].tranches.Remove(9)
	require.NoError(t, tr.Verify())

	// The placed tranche listed in a second, empty leaf.
	other := (l + 1) % LeafCount
	tr.leaves[other].tranches.Insert(3)
	assert.Error(t, tr.Verify())
	tr.leaves[other].tranches.Remove(3)
	require.NoError(t, tr.Verify())
}

func TestTrancheSet_ValuesAscending(t *testing.T) {
	s := newTrancheSet()
	for _, id := range []int16{7, -3, 12, 0, 7} {
		s.Insert(id)
	}
	assert.Equal(t, []int16{-3, 0, 7, 12}, s.Values())
	s.Remove(0)
	assert.Equal(t, []int16{-3, 7, 12}, s.Values())
}
