package saturation

import (
	"math/bits"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// levelSize[k] is the number of nodes on level k.
var levelSize = [TreeLevels]int{1, NodeWidth, NodeWidth * NodeWidth}

// node covers NodeWidth children on the level below it.
type node struct {
	// bits has child i set iff that child subtree holds a non-empty leaf.
	bits uint16
	// satAbs is the absolute saturation of every leaf below.
	satAbs uint256.Int
	// penalty is added to the accumulator of every leaf below.
	penalty uint256.Int
}

type leaf struct {
	tranches CompactIntegerSet
	sat      SaturationPair
	penalty  uint256.Int
}

// trancheAccrual keeps a tranche's accumulator continuous across leaf moves:
// acc = accAtJoin + leafAcc(leaf) - leafAccAtJoin while the tranche is placed.
type trancheAccrual struct {
	accAtJoin     uint256.Int
	leafAccAtJoin uint256.Int
}

// Tree holds the saturation of one borrow direction.
type Tree struct {
	dir    Direction
	mapper *leafMapper
	levels [TreeLevels][]node
	leaves [LeafCount]leaf

	trancheLeaf map[Tranche]int
	trancheSat  map[Tranche]SaturationPair
	trancheAcc  map[Tranche]trancheAccrual
	accounts    map[uuid.UUID]*Account

	totalSatAbs uint256.Int
	highestLeaf int
	// penaltyTotal bounds every accumulator in the tree.
	penaltyTotal uint256.Int
}

// NewTree returns an empty tree that maps ticks with the default PriceMath.
func NewTree(dir Direction) *Tree {
	return newTree(dir, defaultMapper)
}

func newTree(dir Direction, m *leafMapper) *Tree {
	t := &Tree{
		dir:         dir,
		mapper:      m,
		trancheLeaf: make(map[Tranche]int),
		trancheSat:  make(map[Tranche]SaturationPair),
		trancheAcc:  make(map[Tranche]trancheAccrual),
		accounts:    make(map[uuid.UUID]*Account),
		highestLeaf: NoLeaf,
	}
	for k := 0; k < TreeLevels; k++ {
		t.levels[k] = make([]node, levelSize[k])
	}
	for i := range t.leaves {
		t.leaves[i].tranches = newTrancheSet()
	}
	return t
}

func (t *Tree) Direction() Direction { return t.dir }

// HighestLeaf returns the highest occupied leaf or NoLeaf.
func (t *Tree) HighestLeaf() int { return t.highestLeaf }

// TotalSatAbs returns the absolute saturation of the whole tree.
func (t *Tree) TotalSatAbs() *uint256.Int { return t.totalSatAbs.Clone() }

// leafPath returns the node index and child position of leaf l on level k.
func leafPath(l, level int) (index, pos int) {
	shift := nodeShift * (TreeLevels - level)
	return l >> shift, (l >> (shift - nodeShift)) & (NodeWidth - 1)
}

// setOrClearBit writes one occupancy bit and propagates upward only when the
// node switches between empty and non-empty.
func (t *Tree) setOrClearBit(level, nodeIndex, childPos int, value bool) {
	for level >= 0 {
		n := &t.levels[level][nodeIndex]
		mask := uint16(1) << uint(childPos)
		wasEmpty := n.bits == 0
		if value {
			if n.bits&mask != 0 {
				return
			}
			n.bits |= mask
			if !wasEmpty {
				return
			}
		} else {
			if n.bits&mask == 0 {
				return
			}
			n.bits &^= mask
			if n.bits != 0 {
				return
			}
		}
		childPos = nodeIndex & (NodeWidth - 1)
		nodeIndex >>= nodeShift
		level--
	}
}

// findHighestOccupiedLeaf walks up from the cached highest leaf to the first
// occupied node, then down along the highest set bits.
func (t *Tree) findHighestOccupiedLeaf() int {
	level, index := 0, 0
	if t.highestLeaf != NoLeaf {
		level = TreeLevels - 1
		index, _ = leafPath(t.highestLeaf, level)
		for level > 0 && t.levels[level][index].bits == 0 {
			index >>= nodeShift
			level--
		}
	}
	if t.levels[level][index].bits == 0 {
		return NoLeaf
	}
	for {
		child := index<<nodeShift + bits.Len16(t.levels[level][index].bits) - 1
		if level == TreeLevels-1 {
			return child
		}
		index = child
		level++
	}
}

// markLeaf updates the occupancy bits after a leaf became empty or non-empty.
func (t *Tree) markLeaf(l int, occupied bool) {
	index, pos := leafPath(l, TreeLevels-1)
	t.setOrClearBit(TreeLevels-1, index, pos, occupied)
	if occupied {
		if l > t.highestLeaf {
			t.highestLeaf = l
		}
		return
	}
	if l == t.highestLeaf {
		t.highestLeaf = t.findHighestOccupiedLeaf()
	}
}

// addLeafSat moves the absolute saturation of leaf l by delta up the tree.
// Callers check the total for overflow first.
func (t *Tree) addLeafSat(l int, delta *uint256.Int, negative bool) {
	for level := TreeLevels - 1; level >= 0; level-- {
		index, _ := leafPath(l, level)
		n := &t.levels[level][index]
		if negative {
			n.satAbs.Sub(&n.satAbs, delta)
		} else {
			n.satAbs.Add(&n.satAbs, delta)
		}
	}
	if negative {
		t.totalSatAbs.Sub(&t.totalSatAbs, delta)
	} else {
		t.totalSatAbs.Add(&t.totalSatAbs, delta)
	}
}

// leafAccumulator is the path sum of penalty addends from the root to leaf l.
func (t *Tree) leafAccumulator(l int) *uint256.Int {
	acc := t.leaves[l].penalty.Clone()
	for level := 0; level < TreeLevels; level++ {
		index, _ := leafPath(l, level)
		acc.Add(acc, &t.levels[level][index].penalty)
	}
	return acc
}

// nodeSpan is the number of leaves under one node of the level.
func nodeSpan(level int) int {
	return LeafCount >> (nodeShift * level)
}

// addPenaltyRange adds perUnit to the accumulator of every leaf in [lo, hi].
// Callers check penaltyTotal for overflow first.
func (t *Tree) addPenaltyRange(lo, hi int, perUnit *uint256.Int) {
	t.penaltyTotal.Add(&t.penaltyTotal, perUnit)
	t.applyRange(0, 0, lo, hi, func(n *node) {
		n.penalty.Add(&n.penalty, perUnit)
	}, func(lf *leaf) {
		lf.penalty.Add(&lf.penalty, perUnit)
	})
}

// sumSatRange returns the absolute saturation held by leaves in [lo, hi].
func (t *Tree) sumSatRange(lo, hi int) *uint256.Int {
	sum := new(uint256.Int)
	t.applyRange(0, 0, lo, hi, func(n *node) {
		sum.Add(sum, &n.satAbs)
	}, func(lf *leaf) {
		sum.Add(sum, &lf.sat.Abs)
	})
	return sum
}

// applyRange visits the maximal nodes and leaves covering [lo, hi] below
// node (level, index). At most 2*(NodeWidth-1) visits happen per level.
func (t *Tree) applyRange(level, index, lo, hi int, onNode func(*node), onLeaf func(*leaf)) {
	span := nodeSpan(level)
	start := index * span
	end := start + span - 1
	if hi < start || lo > end {
		return
	}
	if lo <= start && end <= hi {
		onNode(&t.levels[level][index])
		return
	}
	for c := 0; c < NodeWidth; c++ {
		child := index<<nodeShift + c
		if level == TreeLevels-1 {
			if child >= lo && child <= hi {
				onLeaf(&t.leaves[child])
			}
			continue
		}
		t.applyRange(level+1, child, lo, hi, onNode, onLeaf)
	}
}

// Stats summarizes the tree.
func (t *Tree) Stats() TreeStats {
	s := TreeStats{
		Direction:   t.dir,
		HighestLeaf: t.highestLeaf,
		Accounts:    len(t.accounts),
		Tranches:    len(t.trancheSat),
	}
	s.TotalSatAbs.Set(&t.totalSatAbs)
	for i := range t.leaves {
		if t.leaves[i].tranches.Len() > 0 {
			s.OccupiedLeaves++
		}
	}
	return s
}
