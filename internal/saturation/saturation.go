package saturation

import (
	"fmt"

	"SatLedger/internal/liquidation"
	fpmath "SatLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Params are the protocol constants the trees run with.
type Params struct {
	// MaxLTVBps is the loan-to-value at which a position is liquidated.
	MaxLTVBps uint64
	// DecayQ64 divides leftover relative demand between tranches (B > 1).
	DecayQ64 uint256.Int
	// MaxTranchesPerAccount bounds one account's entries per tree.
	MaxTranchesPerAccount int
	// MaxSaturationRatioWad of active liquidity sets the leaf ceiling.
	MaxSaturationRatioWad uint256.Int

	// PenaltyStartRatioBps of pool liquidity marks the first penalized leaf.
	PenaltyStartRatioBps      uint64
	SaturationWeightWad       uint256.Int
	IdleWeightWad             uint256.Int
	TargetUtilizationFloorWad uint256.Int

	// Hard liquidation premium ramps from 0 at PremiumStartLTVBps to
	// MaxPremiumBps at PremiumFullLTVBps.
	PremiumStartLTVBps uint64
	PremiumFullLTVBps  uint64
	MaxPremiumBps      uint64
}

// DefaultParams returns conservative defaults.
func DefaultParams() Params {
	p := Params{
		MaxLTVBps:             8_500,
		MaxTranchesPerAccount: 32,
		PenaltyStartRatioBps:  8_500,
		PremiumStartLTVBps:    8_500,
		PremiumFullLTVBps:     9_500,
		MaxPremiumBps:         1_000,
	}
	// B = 1.125
	p.DecayQ64.Add(fpmath.Q64, new(uint256.Int).Rsh(fpmath.Q64, 3))
	p.MaxSaturationRatioWad.SetUint64(1_000_000_000_000_000_000)
	p.SaturationWeightWad.SetUint64(500_000_000_000_000_000)
	p.IdleWeightWad.SetUint64(250_000_000_000_000_000)
	p.TargetUtilizationFloorWad.SetUint64(100_000_000_000_000_000)
	return p
}

// Validate rejects parameters the algorithms cannot run with.
func (p *Params) Validate() error {
	if p.MaxLTVBps == 0 || p.MaxLTVBps > fpmath.BPS {
		return fmt.Errorf("max_ltv_bps must be in (0, %d], got %d", fpmath.BPS, p.MaxLTVBps)
	}
	if !p.DecayQ64.Gt(fpmath.Q64) {
		return fmt.Errorf("decay factor must be greater than 1, got %s/2^64", p.DecayQ64.Dec())
	}
	if p.MaxTranchesPerAccount <= 0 {
		return fmt.Errorf("max_tranches_per_account must be positive, got %d", p.MaxTranchesPerAccount)
	}
	if p.MaxSaturationRatioWad.IsZero() {
		return fmt.Errorf("max_saturation_ratio must be positive")
	}
	if p.PenaltyStartRatioBps > fpmath.BPS {
		return fmt.Errorf("penalty_start_ratio_bps must be at most %d, got %d", fpmath.BPS, p.PenaltyStartRatioBps)
	}
	if p.PremiumFullLTVBps <= p.PremiumStartLTVBps {
		return fmt.Errorf("premium_full_ltv_bps (%d) must exceed premium_start_ltv_bps (%d)",
			p.PremiumFullLTVBps, p.PremiumStartLTVBps)
	}
	if p.MaxPremiumBps > fpmath.BPS {
		return fmt.Errorf("max_premium_bps must be at most %d, got %d", fpmath.BPS, p.MaxPremiumBps)
	}
	return nil
}

// Saturation owns both trees of one pool. It is not safe for concurrent use;
// callers serialize every call.
type Saturation struct {
	params Params
	model  InterestModel
	log    zerolog.Logger
	prices PriceMath
	mapper *leafMapper

	netX *Tree
	netY *Tree

	// unpaid holds realized penalty of accounts that no longer have a record.
	unpaid map[uuid.UUID]uint256.Int
}

// Option configures a Saturation.
type Option func(*Saturation)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Saturation) { s.log = l }
}

// WithPriceMath replaces the tick/price converter used for tranche placement
// and leaf mapping. The default is fpmath.TickMath.
func WithPriceMath(pm PriceMath) Option {
	return func(s *Saturation) { s.prices = pm }
}

func New(params Params, model InterestModel, opts ...Option) (*Saturation, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if model == nil {
		return nil, fmt.Errorf("interest model is required")
	}
	s := &Saturation{
		params: params,
		model:  model,
		log:    zerolog.Nop(),
		prices: fpmath.TickMath{},
		unpaid: make(map[uuid.UUID]uint256.Int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prices == nil {
		return nil, fmt.Errorf("price math is required")
	}
	s.mapper = defaultMapper
	if _, ok := s.prices.(fpmath.TickMath); !ok {
		s.mapper = newLeafMapper(s.prices)
	}
	s.netX = newTree(NetX, s.mapper)
	s.netY = newTree(NetY, s.mapper)
	return s, nil
}

func (s *Saturation) Params() Params { return s.params }
func (s *Saturation) NetX() *Tree    { return s.netX }
func (s *Saturation) NetY() *Tree    { return s.netY }

func (s *Saturation) trees() [2]*Tree { return [2]*Tree{s.netX, s.netY} }

func (s *Saturation) tree(dir Direction) *Tree {
	if dir == NetX {
		return s.netX
	}
	return s.netY
}

// CeilingLeaf is the highest leaf a tranche may occupy for the given active
// liquidity.
func (s *Saturation) CeilingLeaf(activeLiquidity *uint256.Int) (int, error) {
	limit, err := fpmath.MulDiv(activeLiquidity, &s.params.MaxSaturationRatioWad, fpmath.WAD, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	return s.mapper.satToLeaf(limit), nil
}

// UpdatePosition re-places an account in both trees from its current
// balances. The old placement is removed and the new one inserted as one
// step: on error nothing changes.
func (s *Saturation) UpdatePosition(account uuid.UUID, in *liquidation.PositionInputs, userSatRatioWad *uint256.Int) error {
	if account == uuid.Nil {
		return ErrInvalidIdentity
	}
	prices, err := liquidation.Solve(in, s.params.MaxLTVBps)
	if err != nil {
		return fmt.Errorf("solve liquidation price: %w", err)
	}
	satX, satY, err := liquidation.SaturationAmounts(in, prices)
	if err != nil {
		return err
	}
	ceiling, err := s.CeilingLeaf(&in.ActiveLiquidity)
	if err != nil {
		return fmt.Errorf("ceiling leaf: %w", err)
	}

	j := s.newJournal()
	carried := new(uint256.Int)
	sides := [2]struct {
		tree  *Tree
		sat   *uint256.Int
		price *uint256.Int
	}{
		{s.netX, satX, &prices.NetX},
		{s.netY, satY, &prices.NetY},
	}
	for _, side := range sides {
		owed, err := s.replaceAccount(j, side.tree, account, side.sat, side.price, in, userSatRatioWad, ceiling)
		if err != nil {
			j.rollback()
			return err
		}
		if carried, err = fpmath.Add(carried, owed); err != nil {
			j.rollback()
			return err
		}
	}
	if !carried.IsZero() {
		prev := s.unpaid[account]
		total, err := fpmath.Add(&prev, carried)
		if err != nil {
			j.rollback()
			return err
		}
		j.setUnpaid(account, total)
	}

	s.log.Debug().
		Str("account", account.String()).
		Str("sat_x", satX.Dec()).
		Str("sat_y", satY.Dec()).
		Int("highest_x", s.netX.highestLeaf).
		Int("highest_y", s.netY.highestLeaf).
		Msg("position updated")
	return nil
}

// replaceAccount removes the account from t and places its new saturation.
// Penalty realized on removal moves into the new record; when the account
// leaves the tree it is returned for the unpaid balance instead.
func (s *Saturation) replaceAccount(j *journal, t *Tree, account uuid.UUID, sat, liqPrice *uint256.Int,
	in *liquidation.PositionInputs, userSatRatioWad *uint256.Int, ceiling int) (*uint256.Int, error) {

	owed := new(uint256.Int)
	if old, ok := t.accounts[account]; ok {
		var err error
		if owed, err = t.removeAccount(j, old); err != nil {
			return nil, err
		}
		j.setAccount(t, account, nil)
	}
	if sat.IsZero() || liqPrice.IsZero() {
		return owed, nil
	}

	start, entries, err := t.planDistribution(distributeParams{
		satAbs:          sat,
		liqSqrtPrice:    liqPrice,
		activeLiquidity: &in.ActiveLiquidity,
		userSatRatioWad: userSatRatioWad,
		decayQ64:        &s.params.DecayQ64,
		maxTranches:     s.params.MaxTranchesPerAccount,
	})
	if err != nil {
		return nil, err
	}
	a := &Account{StartTranche: start, Entries: entries}
	a.AccruedPenalty.Set(owed)
	if err := t.insertAccount(j, a, ceiling); err != nil {
		return nil, err
	}
	j.setAccount(t, account, a)
	return new(uint256.Int), nil
}

// Account returns a copy of the account's placement in one tree.
func (s *Saturation) Account(dir Direction, account uuid.UUID) (AccountView, bool) {
	a, ok := s.tree(dir).accounts[account]
	if !ok {
		return AccountView{}, false
	}
	v := AccountView{
		Account:      account,
		Direction:    dir,
		StartTranche: a.StartTranche,
		Entries:      append([]SaturationPair(nil), a.Entries...),
	}
	v.AccruedPenalty.Set(&a.AccruedPenalty)
	return v, true
}

// Unpaid returns realized penalty held for an account without a record.
func (s *Saturation) Unpaid(account uuid.UUID) *uint256.Int {
	v := s.unpaid[account]
	return v.Clone()
}

// Stats summarizes both trees.
func (s *Saturation) Stats() [2]TreeStats {
	return [2]TreeStats{s.netX.Stats(), s.netY.Stats()}
}
