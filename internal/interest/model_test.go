package interest_test

import (
	"testing"

	"SatLedger/internal/interest"
	fpmath "SatLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wadPercent(p uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(p), uint256.NewInt(10_000_000_000_000_000))
}

func TestModel_Rate(t *testing.T) {
	m := interest.DefaultModel()
	require.NoError(t, m.Validate())

	tests := []struct {
		name     string
		util     *uint256.Int
		expected *uint256.Int
	}{
		{"zero", new(uint256.Int), new(uint256.Int)},
		{"half kink", wadPercent(40), wadPercent(2)},
		{"at kink", wadPercent(80), wadPercent(4)},
		{"full", wadPercent(100), wadPercent(79)},
		{"above full clamps", wadPercent(150), wadPercent(79)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Rate(tt.util)
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Dec(), got.Dec())
		})
	}
}

func TestModel_RateMonotonic(t *testing.T) {
	m := interest.DefaultModel()
	prev := new(uint256.Int)
	for p := uint64(0); p <= 100; p += 5 {
		r, err := m.Rate(wadPercent(p))
		require.NoError(t, err)
		assert.False(t, r.Lt(prev), "utilization %d%%", p)
		prev = r
	}
}

func TestModel_ValidateRejectsBadKink(t *testing.T) {
	m := interest.DefaultModel()
	m.Kink = fpmath.WAD
	assert.Error(t, m.Validate())
	m.Kink = new(uint256.Int)
	assert.Error(t, m.Validate())
}
