package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"SatLedger/internal/config"
	"SatLedger/internal/interest"
	"SatLedger/internal/saturation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathMatchesCoreDefaults(t *testing.T) {
	p, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, saturation.DefaultParams(), p.Saturation)

	m := interest.DefaultModel()
	assert.True(t, m.Slope1.Eq(p.Interest.Slope1))
	assert.True(t, m.Slope2.Eq(p.Interest.Slope2))
	assert.True(t, m.Kink.Eq(p.Interest.Kink))
	assert.True(t, p.Interest.Base.IsZero())
}

func TestParse_OverridesSelectedKeys(t *testing.T) {
	p, err := config.Parse(`
[saturation]
max_ltv_bps = 9000
max_tranches_per_account = 16

[premium]
max_bps = 500
`)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), p.Saturation.MaxLTVBps)
	assert.Equal(t, 16, p.Saturation.MaxTranchesPerAccount)
	assert.Equal(t, uint64(500), p.Saturation.MaxPremiumBps)
	// Untouched keys keep their defaults.
	assert.Equal(t, uint64(8_500), p.Saturation.PenaltyStartRatioBps)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "[saturation]\nmax_ltv = 9000\n"},
		{"decay not above one", "[saturation]\ndecay_bps = 10000\n"},
		{"ltv above one", "[saturation]\nmax_ltv_bps = 10001\n"},
		{"weight above one", "[penalty]\nidle_weight_bps = 20000\n"},
		{"inverted premium ramp", "[premium]\nstart_ltv_bps = 9500\nfull_ltv_bps = 9000\n"},
		{"kink at one", "[interest]\nkink_bps = 10000\n"},
		{"bad syntax", "[saturation\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.toml")
	require.NoError(t, config.WriteDefault(path))

	p, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, saturation.DefaultParams(), p.Saturation)

	// Never clobbers an existing file.
	assert.ErrorIs(t, config.WriteDefault(path), os.ErrExist)
}
