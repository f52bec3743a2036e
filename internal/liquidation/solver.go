package liquidation

import (
	"fmt"
	"math/big"

	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
)

// Prices holds the sqrt prices (Q64.64) at which a position reaches its
// maximum LTV. A zero value means there is no liquidation point on that side.
type Prices struct {
	// NetX is reached as the price rises and net X debt outgrows collateral.
	NetX uint256.Int
	// NetY is reached as the price falls and net Y debt outgrows collateral.
	NetY uint256.Int
}

var (
	bigBPS  = new(big.Int).SetUint64(fpmath.BPS)
	bigQ64  = new(big.Int).Lsh(big.NewInt(1), 64)
	bigQ128 = new(big.Int).Lsh(big.NewInt(1), 128)
)

// coefficient scales a net balance: collateral by maxLTV, debt by -1.
func coefficient(s Side, maxLTVBps uint64, shift *big.Int) *big.Int {
	c := s.Amount.ToBig()
	if s.Borrowed {
		c.Mul(c, bigBPS)
		c.Neg(c)
	} else {
		c.Mul(c, new(big.Int).SetUint64(maxLTVBps))
	}
	if shift != nil {
		c.Mul(c, shift)
	}
	return c
}

// Solve finds the liquidation sqrt prices of a position.
//
// Health in Y units at sqrt price s is h(s) = a*s^2 + 2*b*s + c where a, b, c
// are the scaled net X, L and Y balances. With S = s * 2^64 the roots are
// S = (-B ± sqrt(B^2 - a*C)) / a for B = b*2^64, C = c*2^128. The net-X root
// rounds down and the net-Y root rounds up so both trigger no later than exact.
// Net L debt shifts the roots but never produces a liquidation point on its own.
func Solve(in *PositionInputs, maxLTVBps uint64) (Prices, error) {
	var out Prices
	nx, ny := in.NetX(), in.NetY()
	xDebt := nx.Borrowed && !nx.Amount.IsZero()
	yDebt := ny.Borrowed && !ny.Amount.IsZero()
	if !xDebt && !yDebt {
		return out, nil
	}

	a := coefficient(nx, maxLTVBps, nil)
	b := coefficient(in.NetL(), maxLTVBps, bigQ64)
	c := coefficient(ny, maxLTVBps, bigQ128)

	var xRoot, yRoot *big.Int
	switch {
	case a.Sign() == 0:
		// Linear: 2*B*S + C = 0, only net Y debt is possible here.
		if b.Sign() > 0 {
			yRoot = divRound(new(big.Int).Neg(c), new(big.Int).Lsh(b, 1), fpmath.RoundUp)
		}
	case c.Sign() == 0:
		// a*S^2 + 2*B*S = 0, only net X debt is possible here.
		if b.Sign() > 0 {
			xRoot = divRound(new(big.Int).Lsh(b, 1), new(big.Int).Neg(a), fpmath.RoundDown)
		}
	case b.Sign() == 0:
		// a*S^2 + C = 0 has a positive root only when a and C differ in sign.
		if xDebt && !yDebt {
			xRoot = sqrtRound(divRound(c, new(big.Int).Neg(a), fpmath.RoundDown), fpmath.RoundDown)
		} else if yDebt && !xDebt {
			yRoot = sqrtRound(divRound(new(big.Int).Neg(c), a, fpmath.RoundUp), fpmath.RoundUp)
		}
	default:
		xRoot, yRoot = quadraticRoots(a, b, c, xDebt, yDebt)
	}

	if xDebt && xRoot != nil {
		v, err := clampToRange(xRoot)
		if err != nil {
			return out, fmt.Errorf("net X liquidation price: %w", err)
		}
		out.NetX = v
	}
	if yDebt && yRoot != nil {
		v, err := clampToRange(yRoot)
		if err != nil {
			return out, fmt.Errorf("net Y liquidation price: %w", err)
		}
		out.NetY = v
	}
	return out, nil
}

func quadraticRoots(a, b, c *big.Int, xDebt, yDebt bool) (xRoot, yRoot *big.Int) {
	disc := fpmath.GetBig()
	defer fpmath.PutBig(disc)
	ac := fpmath.GetBig()
	defer fpmath.PutBig(ac)

	disc.Mul(b, b)
	ac.Mul(a, c)
	disc.Sub(disc, ac)
	if disc.Sign() <= 0 {
		return nil, nil
	}
	if xDebt && yDebt && b.Sign() <= 0 {
		// Both roots are negative: no price keeps the position healthy.
		return nil, nil
	}
	r := new(big.Int).Sqrt(disc)

	if xDebt {
		// a < 0: S = (b + r) / -a
		num := new(big.Int).Add(b, r)
		xRoot = divRound(num, new(big.Int).Neg(a), fpmath.RoundDown)
	}
	if yDebt {
		// S = (r - b) / a for a > 0, (b - r) / -a for a < 0
		num := new(big.Int).Sub(r, b)
		den := new(big.Int).Set(a)
		if a.Sign() < 0 {
			num.Neg(num)
			den.Neg(den)
		}
		yRoot = divRound(num, den, fpmath.RoundUp)
	}
	return xRoot, yRoot
}

// divRound divides two positive numbers; nil when the quotient is not positive.
func divRound(n, d *big.Int, mode fpmath.RoundingMode) *big.Int {
	if n == nil || n.Sign() <= 0 || d.Sign() <= 0 {
		return nil
	}
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if mode == fpmath.RoundUp && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func sqrtRound(v *big.Int, mode fpmath.RoundingMode) *big.Int {
	if v == nil {
		return nil
	}
	r := new(big.Int).Sqrt(v)
	if mode == fpmath.RoundUp {
		sq := new(big.Int).Mul(r, r)
		if sq.Cmp(v) < 0 {
			r.Add(r, big.NewInt(1))
		}
	}
	return r
}

// clampToRange maps roots outside the valid price domain to zero.
func clampToRange(v *big.Int) (uint256.Int, error) {
	var out uint256.Int
	if v.BitLen() > 256 {
		return out, nil
	}
	u, err := fpmath.FromBig(v)
	if err != nil {
		return out, err
	}
	if u.Lt(fpmath.MinSqrtPrice) || u.Gt(fpmath.MaxSqrtPrice) {
		return out, nil
	}
	out.Set(u)
	return out, nil
}

// SaturationAmounts converts net debt into liquidity units at the liquidation
// price of each side: X debt as x*s, Y debt as y/s. Both round up and must fit
// in 128 bits.
func SaturationAmounts(in *PositionInputs, p Prices) (netX, netY *uint256.Int, err error) {
	netX, netY = new(uint256.Int), new(uint256.Int)
	if !p.NetX.IsZero() {
		v, err := fpmath.MulDiv(in.NetXDebt(), &p.NetX, fpmath.Q64, fpmath.RoundUp)
		if err != nil {
			return nil, nil, fmt.Errorf("net X saturation: %w", err)
		}
		if netX, err = fpmath.ToU128(v); err != nil {
			return nil, nil, fmt.Errorf("net X saturation: %w", err)
		}
	}
	if !p.NetY.IsZero() {
		v, err := fpmath.MulDiv(in.NetYDebt(), fpmath.Q64, &p.NetY, fpmath.RoundUp)
		if err != nil {
			return nil, nil, fmt.Errorf("net Y saturation: %w", err)
		}
		if netY, err = fpmath.ToU128(v); err != nil {
			return nil, nil, fmt.Errorf("net Y saturation: %w", err)
		}
	}
	return netX, netY, nil
}
