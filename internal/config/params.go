// Package config loads protocol parameters from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"SatLedger/internal/interest"
	fpmath "SatLedger/internal/math"
	"SatLedger/internal/saturation"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
)

// wadPerBps converts a basis-point fraction to WAD.
const wadPerBps = 100_000_000_000_000

// File is the on-disk layout. Fractions are basis points.
type File struct {
	Saturation SaturationSection `toml:"saturation"`
	Penalty    PenaltySection    `toml:"penalty"`
	Premium    PremiumSection    `toml:"premium"`
	Interest   InterestSection   `toml:"interest"`
}

type SaturationSection struct {
	MaxLTVBps             uint64 `toml:"max_ltv_bps"`
	DecayBps              uint64 `toml:"decay_bps"` // B = decay_bps / 10000
	MaxTranchesPerAccount int    `toml:"max_tranches_per_account"`
	MaxSaturationRatioBps uint64 `toml:"max_saturation_ratio_bps"`
}

type PenaltySection struct {
	StartRatioBps             uint64 `toml:"start_ratio_bps"`
	SaturationWeightBps       uint64 `toml:"saturation_weight_bps"`
	IdleWeightBps             uint64 `toml:"idle_weight_bps"`
	TargetUtilizationFloorBps uint64 `toml:"target_utilization_floor_bps"`
}

type PremiumSection struct {
	StartLTVBps uint64 `toml:"start_ltv_bps"`
	FullLTVBps  uint64 `toml:"full_ltv_bps"`
	MaxBps      uint64 `toml:"max_bps"`
}

type InterestSection struct {
	BaseBps   uint64 `toml:"base_bps"`
	Slope1Bps uint64 `toml:"slope1_bps"`
	Slope2Bps uint64 `toml:"slope2_bps"`
	KinkBps   uint64 `toml:"kink_bps"`
}

// Protocol is the validated result of a parameter file.
type Protocol struct {
	Saturation saturation.Params
	Interest   *interest.Model
}

// DefaultFile mirrors saturation.DefaultParams and interest.DefaultModel.
func DefaultFile() File {
	return File{
		Saturation: SaturationSection{
			MaxLTVBps:             8_500,
			DecayBps:              11_250,
			MaxTranchesPerAccount: 32,
			MaxSaturationRatioBps: 10_000,
		},
		Penalty: PenaltySection{
			StartRatioBps:             8_500,
			SaturationWeightBps:       5_000,
			IdleWeightBps:             2_500,
			TargetUtilizationFloorBps: 1_000,
		},
		Premium: PremiumSection{
			StartLTVBps: 8_500,
			FullLTVBps:  9_500,
			MaxBps:      1_000,
		},
		Interest: InterestSection{
			Slope1Bps: 400,
			Slope2Bps: 7_500,
			KinkBps:   8_000,
		},
	}
}

// Load decodes path over the defaults. An empty path returns the defaults.
// Keys the file layout does not know are rejected.
func Load(path string) (*Protocol, error) {
	f := DefaultFile()
	if path != "" {
		meta, err := toml.DecodeFile(path, &f)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	return f.Protocol()
}

// Parse is Load for an in-memory document.
func Parse(doc string) (*Protocol, error) {
	f := DefaultFile()
	meta, err := toml.Decode(doc, &f)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	return f.Protocol()
}

// WriteDefault writes the default parameters to path. Existing files are
// left alone.
func WriteDefault(path string) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	err = toml.NewEncoder(fh).Encode(DefaultFile())
	return errors.Join(err, fh.Close())
}

// Protocol converts the file into validated core parameters.
func (f *File) Protocol() (*Protocol, error) {
	if f.Saturation.DecayBps <= fpmath.BPS {
		return nil, fmt.Errorf("saturation.decay_bps must be > %d, got %d", fpmath.BPS, f.Saturation.DecayBps)
	}
	for name, v := range map[string]uint64{
		"saturation.max_saturation_ratio_bps":  f.Saturation.MaxSaturationRatioBps,
		"penalty.saturation_weight_bps":        f.Penalty.SaturationWeightBps,
		"penalty.idle_weight_bps":              f.Penalty.IdleWeightBps,
		"penalty.target_utilization_floor_bps": f.Penalty.TargetUtilizationFloorBps,
	} {
		if v > fpmath.BPS {
			return nil, fmt.Errorf("%s must be at most %d, got %d", name, fpmath.BPS, v)
		}
	}

	p := saturation.Params{
		MaxLTVBps:             f.Saturation.MaxLTVBps,
		MaxTranchesPerAccount: f.Saturation.MaxTranchesPerAccount,
		PenaltyStartRatioBps:  f.Penalty.StartRatioBps,
		PremiumStartLTVBps:    f.Premium.StartLTVBps,
		PremiumFullLTVBps:     f.Premium.FullLTVBps,
		MaxPremiumBps:         f.Premium.MaxBps,
	}
	decay, err := fpmath.MulDiv(fpmath.Q64, uint256.NewInt(f.Saturation.DecayBps), fpmath.BPSInt, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	p.DecayQ64.Set(decay)
	p.MaxSaturationRatioWad.Set(bpsToWad(f.Saturation.MaxSaturationRatioBps))
	p.SaturationWeightWad.Set(bpsToWad(f.Penalty.SaturationWeightBps))
	p.IdleWeightWad.Set(bpsToWad(f.Penalty.IdleWeightBps))
	p.TargetUtilizationFloorWad.Set(bpsToWad(f.Penalty.TargetUtilizationFloorBps))
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m := &interest.Model{
		Base:   bpsToWad(f.Interest.BaseBps),
		Slope1: bpsToWad(f.Interest.Slope1Bps),
		Slope2: bpsToWad(f.Interest.Slope2Bps),
		Kink:   bpsToWad(f.Interest.KinkBps),
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("interest: %w", err)
	}
	return &Protocol{Saturation: p, Interest: m}, nil
}

func bpsToWad(bps uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(bps), uint256.NewInt(wadPerBps))
}
