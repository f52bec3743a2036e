// Package saturation tracks how much borrower debt would be liquidated at
// each price level and charges penalties to the most saturated levels.
//
// Debt is placed into two trees, one per borrow direction. Each tree buckets
// price tranches into 4096 leaves by saturation magnitude and keeps a
// three-level occupancy bitmap over the leaves, so the highest saturated leaf
// and range sums are found in a bounded number of steps.
package saturation

import (
	fpmath "SatLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	// LeafCount is the number of leaves per tree.
	LeafCount = 4096
	// NodeWidth is the fan-out of a node and the width of its occupancy field.
	NodeWidth = 16
	// nodeShift is log2(NodeWidth).
	nodeShift = 4
	// TreeLevels is the number of internal node levels above the leaves.
	TreeLevels = 3
	// NoLeaf marks an empty tree.
	NoLeaf = -1

	// TickSpacing is the number of ticks in one tranche.
	TickSpacing int32 = 100
	// QuartersPerTranche is the resolution of the first-tranche capacity scaling.
	QuartersPerTranche = 4
)

var (
	MinTranche = Tranche(floorDiv(fpmath.MinTick, TickSpacing))
	MaxTranche = Tranche(floorDiv(fpmath.MaxTick, TickSpacing))
)

// Tranche is a 100-tick slice of the price axis.
type Tranche int16

// TrancheOfTick returns floor(tick / TickSpacing).
func TrancheOfTick(tick int32) Tranche {
	return Tranche(floorDiv(tick, TickSpacing))
}

// LowerTick is the first tick of the tranche.
func (t Tranche) LowerTick() int32 { return int32(t) * TickSpacing }

func (t Tranche) valid() bool { return t >= MinTranche && t <= MaxTranche }

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Direction selects the walk order of a tree from the liquidation tranche
// toward the current price.
type Direction int8

const (
	// NetX debt liquidates above the current price, so placement walks down.
	NetX Direction = -1
	// NetY debt liquidates below the current price, so placement walks up.
	NetY Direction = 1
)

func (d Direction) String() string {
	if d == NetX {
		return "net_x"
	}
	return "net_y"
}

// SaturationPair is an absolute debt value and the decayed relative value
// used for placement. Both fit in 128 bits.
type SaturationPair struct {
	Abs uint256.Int
	Rel uint256.Int
}

func (p SaturationPair) IsZero() bool { return p.Abs.IsZero() && p.Rel.IsZero() }

func (p SaturationPair) add(q SaturationPair) (SaturationPair, error) {
	var out SaturationPair
	if _, overflow := out.Abs.AddOverflow(&p.Abs, &q.Abs); overflow || out.Abs.BitLen() > 128 {
		return out, ErrArithmeticOverflow
	}
	if _, overflow := out.Rel.AddOverflow(&p.Rel, &q.Rel); overflow || out.Rel.BitLen() > 128 {
		return out, ErrArithmeticOverflow
	}
	return out, nil
}

func (p SaturationPair) sub(q SaturationPair) (SaturationPair, error) {
	var out SaturationPair
	if _, underflow := out.Abs.SubOverflow(&p.Abs, &q.Abs); underflow {
		return out, ErrArithmeticOverflow
	}
	if _, underflow := out.Rel.SubOverflow(&p.Rel, &q.Rel); underflow {
		return out, ErrArithmeticOverflow
	}
	return out, nil
}

// Account is one borrower's placement in a tree.
type Account struct {
	Exists       bool
	StartTranche Tranche
	// Entries are contiguous from StartTranche in the tree direction.
	Entries []SaturationPair
	// Checkpoints hold the tranche accumulator at last accrual, per entry.
	Checkpoints []uint256.Int
	// AccruedPenalty is realized but not yet claimed.
	AccruedPenalty uint256.Int
}

// TrancheAt returns the tranche of entry i.
func (a *Account) TrancheAt(dir Direction, i int) Tranche {
	return a.StartTranche + Tranche(int(dir)*i)
}

// TotalAbs sums the absolute saturation of all entries.
func (a *Account) TotalAbs() *uint256.Int {
	sum := new(uint256.Int)
	for i := range a.Entries {
		sum.Add(sum, &a.Entries[i].Abs)
	}
	return sum
}

// UtilizationInputs drive one penalty accrual pass. Utilizations are WAD.
type UtilizationInputs struct {
	ExternalLiquidity        uint256.Int
	DepositedL               uint256.Int
	BorrowedL                uint256.Int
	PoolUtilizationWad       uint256.Int
	SaturationUtilizationWad uint256.Int
}

// TreeStats summarize one tree.
type TreeStats struct {
	Direction      Direction
	HighestLeaf    int
	TotalSatAbs    uint256.Int
	Accounts       int
	Tranches       int
	OccupiedLeaves int
}

// AccountView is a read-only copy of an account's placement.
type AccountView struct {
	Account        uuid.UUID
	Direction      Direction
	StartTranche   Tranche
	Entries        []SaturationPair
	AccruedPenalty uint256.Int
}
