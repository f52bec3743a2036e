// Package interest maps utilization to an annual rate.
package interest

import (
	"fmt"

	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
)

// Model is a kinked utilization curve. All fields are WAD fractions.
//
//	rate = Base + Slope1 * u / Kink                              (u <= Kink)
//	rate = Base + Slope1 + Slope2 * (u - Kink) / (WAD - Kink)    (u >  Kink)
type Model struct {
	Base   *uint256.Int
	Slope1 *uint256.Int
	Slope2 *uint256.Int
	Kink   *uint256.Int
}

// DefaultModel: 0% base, 4% at the 80% kink, 79% at full utilization.
func DefaultModel() *Model {
	return &Model{
		Base:   new(uint256.Int),
		Slope1: uint256.NewInt(40_000_000_000_000_000),
		Slope2: uint256.NewInt(750_000_000_000_000_000),
		Kink:   uint256.NewInt(800_000_000_000_000_000),
	}
}

func (m *Model) Validate() error {
	if m.Base == nil || m.Slope1 == nil || m.Slope2 == nil || m.Kink == nil {
		return fmt.Errorf("interest model has unset parameters")
	}
	if m.Kink.IsZero() || !m.Kink.Lt(fpmath.WAD) {
		return fmt.Errorf("kink must be in (0, 1), got %s", m.Kink.Dec())
	}
	return nil
}

// Rate returns the annual rate in WAD for a utilization in WAD.
// Utilization above 1 is treated as 1.
func (m *Model) Rate(utilizationWad *uint256.Int) (*uint256.Int, error) {
	u := fpmath.Min(utilizationWad, fpmath.WAD)
	if u.Cmp(m.Kink) <= 0 {
		inc, err := fpmath.MulDiv(m.Slope1, u, m.Kink, fpmath.RoundUp)
		if err != nil {
			return nil, fmt.Errorf("rate below kink: %w", err)
		}
		return fpmath.Add(m.Base, inc)
	}

	rate, err := fpmath.Add(m.Base, m.Slope1)
	if err != nil {
		return nil, err
	}
	excess := new(uint256.Int).Sub(u, m.Kink)
	span := new(uint256.Int).Sub(fpmath.WAD, m.Kink)
	inc, err := fpmath.MulDiv(m.Slope2, excess, span, fpmath.RoundUp)
	if err != nil {
		return nil, fmt.Errorf("rate above kink: %w", err)
	}
	return fpmath.Add(rate, inc)
}
