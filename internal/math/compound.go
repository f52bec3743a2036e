package math

import (
	"github.com/holiman/uint256"
)

// SecondsPerYear is the annualisation base for rates.
const SecondsPerYear uint64 = 31_536_000

var (
	twoWad = new(uint256.Int).Mul(WAD, uint256.NewInt(2))
	sixWadSq = new(uint256.Int).Mul(new(uint256.Int).Mul(WAD, WAD), uint256.NewInt(6))
)

// CompoundFactor approximates e^(rate*t) - 1 in WAD using the first three
// Taylor terms, rounding every term up.
func CompoundFactor(rateWad *uint256.Int, durationSeconds uint64) (*uint256.Int, error) {
	if durationSeconds == 0 || rateWad.IsZero() {
		return new(uint256.Int), nil
	}
	x, err := MulDiv(rateWad, uint256.NewInt(durationSeconds), uint256.NewInt(SecondsPerYear), RoundUp)
	if err != nil {
		return nil, err
	}
	x2, err := Mul(x, x)
	if err != nil {
		return nil, err
	}
	second, err := Div(x2, twoWad, RoundUp)
	if err != nil {
		return nil, err
	}
	third, err := MulDiv(x2, x, sixWadSq, RoundUp)
	if err != nil {
		return nil, err
	}
	sum, err := Add(x, second)
	if err != nil {
		return nil, err
	}
	return Add(sum, third)
}
