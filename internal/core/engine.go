package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/observability"
	"SatLedger/internal/saturation"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Config wires a DeterministicCore.
type Config struct {
	Params saturation.Params
	Model  saturation.InterestModel

	IdempotencyLRUCapacity int
	// VerifyInterval runs a full tree verification every N sequences; 0 disables it.
	VerifyInterval int64
}

// DeterministicCore is the single-threaded command processor. It owns the
// Saturation handle; nothing else touches it except closures passed to Read.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	sat               *saturation.Saturation
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger
	verifyInterval    int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	reads          chan readRequest
	done           chan struct{}
}

// CoreOutput is one applied command with its typed result.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	// *event.PositionResult, *event.AccrualResult or *event.ClaimResult
	Result interface{}
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*DeterministicCore, error) {
	sat, err := saturation.New(cfg.Params, cfg.Model, saturation.WithLogger(log))
	if err != nil {
		return nil, err
	}
	capacity := cfg.IdempotencyLRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	idempotency, err := NewIdempotencyChecker(capacity, dbChecker, metrics, log)
	if err != nil {
		return nil, err
	}
	return &DeterministicCore{
		hasher:            NewStateHasher(),
		sat:               sat,
		idempotency:       idempotency,
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		log:               log,
		verifyInterval:    cfg.VerifyInterval,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
		reads:             make(chan readRequest),
		done:              make(chan struct{}),
	}, nil
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := evt.Partition()
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		c.reject(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil
	}

	// Step 3: Apply
	output, err := c.apply(evt)
	if err != nil {
		c.sequenceValidator.Rewind(partition, evt.SourceSequence())
		c.reject(eventType, "core_error")
		return fmt.Errorf("apply %s %s: %w", eventType, idempotencyKey, err)
	}

	// Step 4: Emit. Persistence blocks so nothing is lost; projections drop
	// when full and catch up from the event log.
	select {
	case c.persistChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- output
	}
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	// Step 5: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType, output.Envelope.Status).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.recordTreeMetrics()
	}
	return nil
}

// Replay re-applies a command read back from the event log. Nothing is
// emitted; the assigned sequence and resulting state hash must match what
// was logged.
func (c *DeterministicCore) Replay(evt event.Event, sequence int64, stateHash [32]byte) error {
	if sequence != c.sequence {
		return fmt.Errorf("replay: log sequence %d, core at %d", sequence, c.sequence)
	}
	if err := c.sequenceValidator.ValidateSequence(evt.Partition(), evt.SourceSequence(), false); err != nil {
		return fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	output, err := c.apply(evt)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	if output.Envelope.StateHash != stateHash {
		return fmt.Errorf("replay seq %d: state hash %x, logged %x", sequence, output.Envelope.StateHash, stateHash)
	}
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
	return nil
}

// apply runs one command against the trees and seals it into the hash chain.
func (c *DeterministicCore) apply(evt event.Event) (CoreOutput, error) {
	result, status, digest, err := c.dispatchEvent(evt)
	if err != nil {
		return CoreOutput{}, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %s result: %v", evt.EventType(), err))
	}

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Partition:      evt.Partition(),
		Timestamp:      evt.EventTimestamp(),
		SourceSequence: evt.SourceSequence(),
		Status:         status,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after seq %d: %v", c.sequence, err))
	}
	c.sequence++
	return CoreOutput{Envelope: envelope, Event: evt, Result: result}, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (interface{}, string, []byte, error) {
	switch e := evt.(type) {
	case *event.PositionUpdate:
		return c.handlePositionUpdate(e)
	case *event.PenaltyAccrual:
		return c.handlePenaltyAccrual(e)
	case *event.PenaltyClaim:
		return c.handlePenaltyClaim(e)
	default:
		return nil, "", nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *DeterministicCore) handlePositionUpdate(e *event.PositionUpdate) (interface{}, string, []byte, error) {
	in := e.Inputs
	status := event.StatusApplied
	res := &event.PositionResult{Account: e.Account}

	err := c.sat.UpdatePosition(e.Account, &in, &e.SaturationRatioWad)
	switch {
	case errors.Is(err, saturation.ErrCapacityExceeded):
		status = event.StatusRejected
		res.Rejection = err.Error()
		if c.metrics != nil {
			c.metrics.CapacityRejections.Inc()
		}
		c.log.Info().Str("account", e.Account.String()).Err(err).Msg("position update rejected")
	case err != nil:
		return nil, "", nil, err
	}

	digest := c.treeDigest()
	digest = append(digest, e.Account[:]...)
	for _, dir := range []saturation.Direction{saturation.NetX, saturation.NetY} {
		v, ok := c.sat.Account(dir, e.Account)
		if !ok {
			continue
		}
		total := new(uint256.Int)
		for i := range v.Entries {
			total.Add(total, &v.Entries[i].Abs)
		}
		res.Placements = append(res.Placements, event.Placement{
			Tree:         dir.String(),
			StartTranche: int16(v.StartTranche),
			Tranches:     len(v.Entries),
			SatAbs:       total.Dec(),
		})
		digest = append(digest, byte(dir))
		digest = binary.LittleEndian.AppendUint16(digest, uint16(v.StartTranche))
		for i := range v.Entries {
			digest = appendU256(digest, &v.Entries[i].Abs)
			digest = appendU256(digest, &v.Entries[i].Rel)
		}
	}
	unpaid := c.sat.Unpaid(e.Account)
	res.Unpaid = unpaid.Dec()
	res.HighestLeaf = c.highestLeaves()
	digest = appendU256(digest, unpaid)
	return res, status, digest, nil
}

func (c *DeterministicCore) handlePenaltyAccrual(e *event.PenaltyAccrual) (interface{}, string, []byte, error) {
	amount, err := c.sat.AccruePenalties(e.DurationSeconds, e.Utilization)
	if err != nil {
		return nil, "", nil, err
	}
	if c.metrics != nil {
		c.metrics.PenaltyAccrued.Add(approx(amount))
	}
	c.log.Info().
		Int64("epoch", e.EpochID).
		Uint64("duration_s", e.DurationSeconds).
		Str("amount", amount.Dec()).
		Msg("penalty epoch accrued")

	digest := appendU256(c.treeDigest(), amount)
	return &event.AccrualResult{
		EpochID:         e.EpochID,
		DurationSeconds: e.DurationSeconds,
		Amount:          amount.Dec(),
		HighestLeaf:     c.highestLeaves(),
	}, event.StatusApplied, digest, nil
}

func (c *DeterministicCore) handlePenaltyClaim(e *event.PenaltyClaim) (interface{}, string, []byte, error) {
	amount, err := c.sat.AccrueAccountPenalty(e.Account)
	if err != nil {
		return nil, "", nil, err
	}
	if c.metrics != nil {
		c.metrics.PenaltyClaimed.Add(approx(amount))
	}
	digest := append(c.treeDigest(), e.Account[:]...)
	digest = appendU256(digest, amount)
	return &event.ClaimResult{Account: e.Account, Amount: amount.Dec()}, event.StatusApplied, digest, nil
}

// treeDigest is the canonical summary of both trees.
func (c *DeterministicCore) treeDigest() []byte {
	stats := c.sat.Stats()
	digest := make([]byte, 0, 2*(1+4+32+8+8)+128)
	for i := range stats {
		s := &stats[i]
		digest = append(digest, byte(s.Direction))
		digest = binary.LittleEndian.AppendUint32(digest, uint32(int32(s.HighestLeaf)))
		digest = appendU256(digest, &s.TotalSatAbs)
		digest = binary.LittleEndian.AppendUint64(digest, uint64(s.Accounts))
		digest = binary.LittleEndian.AppendUint64(digest, uint64(s.Tranches))
	}
	return digest
}

func appendU256(buf []byte, v *uint256.Int) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func (c *DeterministicCore) highestLeaves() [2]int {
	return [2]int{c.sat.NetX().HighestLeaf(), c.sat.NetY().HighestLeaf()}
}

// postCheckInvariants runs the full tree verification periodically.
func (c *DeterministicCore) postCheckInvariants() error {
	if c.verifyInterval <= 0 || c.sequence%c.verifyInterval != 0 {
		return nil
	}
	return c.sat.Verify()
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordTreeMetrics() {
	for _, s := range c.sat.Stats() {
		tree := s.Direction.String()
		c.metrics.TreeHighestLeaf.WithLabelValues(tree).Set(float64(s.HighestLeaf))
		c.metrics.TreeTotalSat.WithLabelValues(tree).Set(approx(&s.TotalSatAbs))
		c.metrics.TreeAccounts.WithLabelValues(tree).Set(float64(s.Accounts))
	}
}

// approx converts for metrics only.
func approx(v *uint256.Int) float64 {
	return v.Float64()
}

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
