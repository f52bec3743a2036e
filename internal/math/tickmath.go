package math

import (
	"github.com/holiman/uint256"
)

// Tick bounds of the Q64.64 sqrt price domain.
const (
	MinTick int32 = -443636
	MaxTick int32 = 443636
)

// tickRatios[i] is sqrt(1.0001^-(2^i)) in Q128.
var tickRatios = [19]*uint256.Int{
	uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	uint256.MustFromHex("0xfff97272373d413259a46990580e2139"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcb"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941ccf"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926643"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254bf"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52860"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3052"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a3"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e53"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f2"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d8"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e4"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f6"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa5"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc8"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe97"),
}

var (
	MinSqrtPrice = SqrtPriceAtTick(MinTick)
	MaxSqrtPrice = SqrtPriceAtTick(MaxTick)
)

// TickMath is the default tick/price converter.
type TickMath struct{}

func (TickMath) SqrtPriceAtTick(tick int32) *uint256.Int { return SqrtPriceAtTick(tick) }
func (TickMath) TickAtSqrtPrice(s *uint256.Int) int32    { return TickAtSqrtPrice(s) }

// SqrtPriceAtTick returns sqrt(1.0001^tick) in Q64.64, rounded up.
// Ticks outside [MinTick, MaxTick] are clamped.
func SqrtPriceAtTick(tick int32) *uint256.Int {
	if tick < MinTick {
		tick = MinTick
	} else if tick > MaxTick {
		tick = MaxTick
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int).Set(Q128)
	if absTick&1 != 0 {
		ratio.Set(tickRatios[0])
	}
	for i := 1; i < len(tickRatios); i++ {
		if absTick&(1<<uint(i)) != 0 {
			// ratio <= 2^128 and every constant < 2^128, so the product fits.
			ratio.Mul(ratio, tickRatios[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		max := new(uint256.Int).SetAllOne()
		ratio.Div(max, ratio)
	}

	rem := new(uint256.Int).Mod(ratio, Q64)
	ratio.Rsh(ratio, 64)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio
}

// TickAtSqrtPrice returns the greatest tick whose sqrt price does not exceed s.
func TickAtSqrtPrice(s *uint256.Int) int32 {
	if s.Cmp(MinSqrtPrice) <= 0 {
		return MinTick
	}
	if s.Cmp(MaxSqrtPrice) >= 0 {
		return MaxTick
	}
	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if SqrtPriceAtTick(mid).Cmp(s) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
