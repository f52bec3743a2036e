package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"SatLedger/internal/core"
	"SatLedger/internal/event"
	"SatLedger/internal/interest"
	fpmath "SatLedger/internal/math"
	"SatLedger/internal/saturation"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T, mutate func(*saturation.Params)) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	params := saturation.DefaultParams()
	params.MaxLTVBps = fpmath.BPS
	if mutate != nil {
		mutate(&params)
	}
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(core.Config{
		Params:         params,
		Model:          interest.DefaultModel(),
		VerifyInterval: 1,
	}, persistChan, projChan, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return c, persistChan, projChan
}

func units(n uint64) uint256.Int {
	var v uint256.Int
	v.Mul(uint256.NewInt(n), fpmath.WAD)
	return v
}

// mustPositionUpdate borrows b Y against 1 X at sqrt price 4 with 100 units
// of active liquidity.
func mustPositionUpdate(account uuid.UUID, b uint64, seq int64) *event.PositionUpdate {
	evt := &event.PositionUpdate{
		UpdateID:  uuid.New(),
		Account:   account,
		Sequence:  seq,
		Timestamp: time.UnixMicro(1_000_000 + seq*1000),
	}
	evt.Inputs.DepositX = units(1)
	evt.Inputs.BorrowY = units(b)
	evt.Inputs.SqrtPriceQ64.Mul(fpmath.Q64, uint256.NewInt(4))
	evt.Inputs.ActiveLiquidity = units(100)
	evt.SaturationRatioWad.Set(fpmath.WAD)
	return evt
}

func mustAccrual(epoch int64, seconds uint64) *event.PenaltyAccrual {
	evt := &event.PenaltyAccrual{
		EpochID:         epoch,
		DurationSeconds: seconds,
		Timestamp:       time.UnixMicro(2_000_000 + epoch*1000),
	}
	evt.Utilization.PoolUtilizationWad.Set(fpmath.WAD)
	evt.Utilization.SaturationUtilizationWad.Set(fpmath.WAD)
	return evt
}

func mustClaim(account uuid.UUID, seq int64) *event.PenaltyClaim {
	return &event.PenaltyClaim{
		ClaimID:   uuid.New(),
		Account:   account,
		Sequence:  seq,
		Timestamp: time.UnixMicro(3_000_000 + seq*1000),
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Position updates
// ============================================================================

func TestPositionUpdate_EmitsPlacement(t *testing.T) {
	c, persistCh, projCh := newTestCore(t, nil)
	account := uuid.New()

	require.NoError(t, c.ProcessEvent(mustPositionUpdate(account, 1, 0)))

	outputs := drainOutputs(persistCh)
	require.Len(t, outputs, 1)
	require.Len(t, drainOutputs(projCh), 1)

	env := outputs[0].Envelope
	require.Equal(t, int64(0), env.Sequence)
	require.Equal(t, event.StatusApplied, env.Status)
	assert.Equal(t, "account:"+account.String(), env.Partition)

	res, ok := outputs[0].Result.(*event.PositionResult)
	require.True(t, ok, "unexpected result type %T", outputs[0].Result)
	require.Len(t, res.Placements, 1)
	p := res.Placements[0]
	assert.Equal(t, "net_y", p.Tree)
	assert.EqualValues(t, 0, p.StartTranche)
	assert.EqualValues(t, 1, p.Tranches)
	assert.Equal(t, "1000000000000000000", p.SatAbs)
	assert.Equal(t, [2]int{saturation.NoLeaf, 1697}, res.HighestLeaf)

	var decoded event.PositionResult
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, account, decoded.Account)
}

func TestPositionUpdate_DuplicateIsSkipped(t *testing.T) {
	c, persistCh, _ := newTestCore(t, nil)
	evt := mustPositionUpdate(uuid.New(), 1, 0)

	require.NoError(t, c.ProcessEvent(evt))
	require.NoError(t, c.ProcessEvent(evt), "duplicate should be a no-op")
	require.Len(t, drainOutputs(persistCh), 1)
	assert.EqualValues(t, 1, c.GetSequence())
}

func TestPositionUpdate_SequenceGapAndOutOfOrder(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	account := uuid.New()

	require.Error(t, c.ProcessEvent(mustPositionUpdate(account, 1, 1)), "expected gap error")
	require.NoError(t, c.ProcessEvent(mustPositionUpdate(account, 1, 0)))
	require.Error(t, c.ProcessEvent(mustPositionUpdate(account, 2, 0)),
		"expected out-of-order error for a new update at a used sequence")

	// Partitions are independent.
	require.NoError(t, c.ProcessEvent(mustPositionUpdate(uuid.New(), 1, 0)))
}

func TestPositionUpdate_CapacityRejectionIsLogged(t *testing.T) {
	c, persistCh, _ := newTestCore(t, func(p *saturation.Params) { p.MaxTranchesPerAccount = 8 })
	account := uuid.New()

	// 0.001 units of liquidity cannot hold one unit of debt in eight tranches.
	tight := mustPositionUpdate(account, 1, 0)
	tight.Inputs.ActiveLiquidity.SetUint64(1_000_000_000_000_000)
	require.NoError(t, c.ProcessEvent(tight), "rejections are not errors")

	outputs := drainOutputs(persistCh)
	require.Len(t, outputs, 1)
	require.Equal(t, event.StatusRejected, outputs[0].Envelope.Status)
	res := outputs[0].Result.(*event.PositionResult)
	assert.NotEmpty(t, res.Rejection)
	assert.Empty(t, res.Placements)

	// The partition advanced: the next update uses sequence 1.
	require.NoError(t, c.ProcessEvent(mustPositionUpdate(account, 1, 1)))
}

func TestPositionUpdate_CoreErrorRewindsSequence(t *testing.T) {
	c, persistCh, _ := newTestCore(t, nil)

	err := c.ProcessEvent(mustPositionUpdate(uuid.Nil, 1, 0))
	require.ErrorIs(t, err, saturation.ErrInvalidIdentity)
	require.Empty(t, drainOutputs(persistCh), "failed commands are not emitted")
	require.EqualValues(t, 0, c.GetSequence())

	// The same partition sequence is still available.
	err = c.ProcessEvent(mustPositionUpdate(uuid.Nil, 1, 0))
	assert.ErrorIs(t, err, saturation.ErrInvalidIdentity)
}

// ============================================================================
// Test: Penalties
// ============================================================================

func TestPenaltyAccrualAndClaim(t *testing.T) {
	c, persistCh, _ := newTestCore(t, nil)
	account := uuid.New()

	steps := []event.Event{
		mustPositionUpdate(account, 1, 0),
		mustAccrual(0, fpmath.SecondsPerYear),
		mustClaim(account, 0),
		mustClaim(account, 1),
	}
	for i, evt := range steps {
		require.NoError(t, c.ProcessEvent(evt), "step %d", i)
	}

	outputs := drainOutputs(persistCh)
	require.Len(t, outputs, 4)
	accrual := outputs[1].Result.(*event.AccrualResult)
	assert.Equal(t, "25315104166666667", accrual.Amount)
	first := outputs[2].Result.(*event.ClaimResult)
	assert.Equal(t, accrual.Amount, first.Amount)
	second := outputs[3].Result.(*event.ClaimResult)
	assert.Equal(t, "0", second.Amount)
}

func TestPenaltyAccrual_EpochsAreOrdered(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	require.NoError(t, c.ProcessEvent(mustAccrual(0, 60)))
	assert.Error(t, c.ProcessEvent(mustAccrual(2, 60)), "expected gap error for epoch 2")
}

// ============================================================================
// Test: Hash chain, determinism and replay
// ============================================================================

func script(accounts []uuid.UUID) []event.Event {
	var evts []event.Event
	for i, a := range accounts {
		evts = append(evts, mustPositionUpdate(a, uint64(i%4+1), 0))
	}
	evts = append(evts, mustAccrual(0, 86_400))
	evts = append(evts, mustPositionUpdate(accounts[0], 9, 1))
	evts = append(evts, mustClaim(accounts[1], 0))
	return evts
}

func TestStateHash_ChainsAndIsDeterministic(t *testing.T) {
	accounts := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	evts := script(accounts)

	run := func() []core.CoreOutput {
		c, persistCh, _ := newTestCore(t, nil)
		for i, evt := range evts {
			require.NoError(t, c.ProcessEvent(evt), "event %d", i)
		}
		return drainOutputs(persistCh)
	}
	a, b := run(), run()
	require.Len(t, a, len(evts))
	require.Len(t, b, len(evts))
	for i := range a {
		require.Equal(t, a[i].Envelope.StateHash, b[i].Envelope.StateHash, "hash diverged at %d", i)
		if i > 0 {
			require.Equal(t, a[i-1].Envelope.StateHash, a[i].Envelope.PrevHash, "chain broken at %d", i)
		}
	}
}

func TestReplay_ReproducesLoggedHashes(t *testing.T) {
	accounts := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	evts := script(accounts)

	live, persistCh, _ := newTestCore(t, nil)
	for _, evt := range evts {
		require.NoError(t, live.ProcessEvent(evt))
	}
	logged := drainOutputs(persistCh)

	replica, replicaCh, _ := newTestCore(t, nil)
	for _, o := range logged {
		require.NoError(t, replica.Replay(o.Event, o.Envelope.Sequence, o.Envelope.StateHash))
	}
	require.Empty(t, drainOutputs(replicaCh), "replay emitted outputs")
	require.Equal(t, live.GetStateHash(), replica.GetStateHash(), "replica diverged from live core")

	// Replayed commands are known duplicates afterwards.
	require.NoError(t, replica.ProcessEvent(evts[0]))
	assert.Equal(t, live.GetSequence(), replica.GetSequence(), "duplicate advanced the sequence")
}

func TestReplay_DetectsTampering(t *testing.T) {
	live, persistCh, _ := newTestCore(t, nil)
	require.NoError(t, live.ProcessEvent(mustPositionUpdate(uuid.New(), 1, 0)))
	o := drainOutputs(persistCh)[0]

	replica, _, _ := newTestCore(t, nil)
	bad := o.Envelope.StateHash
	bad[0] ^= 0xff
	assert.Error(t, replica.Replay(o.Event, 0, bad), "expected hash mismatch")

	other, _, _ := newTestCore(t, nil)
	assert.Error(t, other.Replay(o.Event, 5, o.Envelope.StateHash), "expected sequence mismatch")
}

// ============================================================================
// Test: Run loop and reads
// ============================================================================

func TestRun_ServesReadsBetweenCommands(t *testing.T) {
	c, persistCh, _ := newTestCore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ingest := make(chan event.Event)
	admin := make(chan event.Event)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, ingest, admin) }()

	account := uuid.New()
	admin <- mustPositionUpdate(account, 1, 0)
	<-persistCh

	var highest int
	err := c.Read(ctx, "stats", func(sat *saturation.Saturation) error {
		highest = sat.NetY().HighestLeaf()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1697, highest)

	sentinel := errors.New("boom")
	err = c.Read(ctx, "fail", func(*saturation.Saturation) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	close(ingest)
	close(admin)
	require.NoError(t, <-done)
	err = c.Read(context.Background(), "late", func(*saturation.Saturation) error { return nil })
	assert.ErrorIs(t, err, core.ErrCoreStopped)
}

func TestPositionInputsAreNotMutated(t *testing.T) {
	c, _, _ := newTestCore(t, nil)
	evt := mustPositionUpdate(uuid.New(), 4, 0)
	before := evt.Inputs
	require.NoError(t, c.ProcessEvent(evt))
	assert.Equal(t, before, evt.Inputs, "inputs changed")
}
