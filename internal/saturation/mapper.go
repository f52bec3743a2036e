package saturation

import (
	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
)

// PriceMath converts between ticks and Q64.64 sqrt prices.
type PriceMath interface {
	SqrtPriceAtTick(tick int32) *uint256.Int
	TickAtSqrtPrice(sqrtPrice *uint256.Int) int32
}

var (
	// MinSatForLeaf and below maps to leaf 0.
	MinSatForLeaf = new(uint256.Int).Lsh(uint256.NewInt(1), 20)
	// MaxSatForLeaf and above maps to the last leaf.
	MaxSatForLeaf = new(uint256.Int).Lsh(uint256.NewInt(1), 116)

	defaultMapper = newLeafMapper(fpmath.TickMath{})
)

// penaltyDeltaBps[d] is the saturation ratio, in bps, spanned by d leaves.
var penaltyDeltaBps = [...]uint64{
	10000, 9838, 9680, 9524, 9370, 9219, 9071, 8924, 8780, 8639,
	8500, 8363, 8228, 8095, 7965, 7836, 7710, 7586, 7464, 7343,
	7225, 7108, 6994, 6881, 6770, 6661, 6554, 6448, 6344, 6242,
	6141, 6042, 5945,
}

// leafMapper places saturation magnitudes on the log-scaled leaf axis.
type leafMapper struct {
	prices  PriceMath
	minTick int32
	maxTick int32
}

func newLeafMapper(pm PriceMath) *leafMapper {
	m := &leafMapper{prices: pm}
	m.minTick = m.tickOfSat(MinSatForLeaf)
	m.maxTick = m.tickOfSat(MaxSatForLeaf)
	return m
}

// tickOfSat reads sat as a Q64 price and returns its tick.
func (m *leafMapper) tickOfSat(sat *uint256.Int) int32 {
	scaled := new(uint256.Int).Lsh(sat, 64)
	return m.prices.TickAtSqrtPrice(fpmath.Sqrt(scaled))
}

func (m *leafMapper) satToLeaf(sat *uint256.Int) int {
	if sat.Lt(MinSatForLeaf) {
		return 0
	}
	if !sat.Lt(MaxSatForLeaf) {
		return LeafCount - 1
	}
	tick := m.tickOfSat(sat)
	leaf := int64(tick-m.minTick) * (LeafCount - 1) / int64(m.maxTick-m.minTick)
	return int(leaf)
}

func (m *leafMapper) thresholdLeaf(base *uint256.Int, startRatioBps uint64) int {
	leaf := m.satToLeaf(base) - leafDelta(startRatioBps)
	if leaf < 0 {
		return 0
	}
	return leaf
}

// SatToLeaf maps a saturation magnitude to a leaf on a log scale.
// It is non-decreasing in sat.
func SatToLeaf(sat *uint256.Int) int {
	return defaultMapper.satToLeaf(sat)
}

// leafDelta returns the number of leaves below a base magnitude that
// corresponds to ratioBps of it.
func leafDelta(ratioBps uint64) int {
	for d, bps := range penaltyDeltaBps {
		if bps <= ratioBps {
			return d
		}
	}
	return len(penaltyDeltaBps) - 1
}

// PenaltyThresholdLeaf is the first leaf charged by penalty accrual.
func PenaltyThresholdLeaf(base *uint256.Int, startRatioBps uint64) int {
	return defaultMapper.thresholdLeaf(base, startRatioBps)
}
