// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// BPS is the basis-point denominator.
const BPS uint64 = 10_000

var (
	// WAD scales ratios, utilizations, rates and penalty accumulators (1e18).
	WAD = uint256.NewInt(1_000_000_000_000_000_000)

	// Q64 scales sqrt prices and the tranche decay factor.
	Q64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

	// Q128 is one past the largest value a saturation field may hold.
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	// MaxU128 is the largest value a saturation field may hold.
	MaxU128 = new(uint256.Int).Sub(Q128, uint256.NewInt(1))

	BPSInt = uint256.NewInt(BPS)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// bigPool holds signed intermediates for computations that leave the
// unsigned 256-bit domain (quadratic discriminants).
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

// GetBig returns a zeroed big.Int from the pool.
func GetBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

// PutBig clears v and returns it to the pool.
func PutBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// MulDiv computes x*y/d with a 512-bit intermediate and the requested rounding.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if mode == RoundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, carry := z.AddOverflow(z, uint256.NewInt(1)); carry {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// Div divides with the requested rounding.
func Div(x, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	q, r := new(uint256.Int).DivMod(x, d, new(uint256.Int))
	if mode == RoundUp && !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}

func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub fails on underflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SaturatingSub returns max(x-y, 0).
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// ToU128 narrows x to 128 bits.
func ToU128(x *uint256.Int) (*uint256.Int, error) {
	if x.BitLen() > 128 {
		return nil, ErrOverflow
	}
	return x.Clone(), nil
}

// FromBig converts a non-negative big.Int into 256 bits.
func FromBig(b *big.Int) (*uint256.Int, error) {
	if b.Sign() < 0 {
		return nil, ErrOverflow
	}
	z, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func Min(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return x
	}
	return y
}

func Max(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}

// Sqrt is the integer square root rounded down.
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}
