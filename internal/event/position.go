package event

import (
	"fmt"
	"time"

	"SatLedger/internal/liquidation"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PositionUpdate re-places an account in both saturation trees from its
// current balances.
// Idempotency key: "{update_id}".
type PositionUpdate struct {
	UpdateID uuid.UUID
	Account  uuid.UUID
	Inputs   liquidation.PositionInputs
	// Fraction of active liquidity one tranche may hold, WAD
	SaturationRatioWad uint256.Int
	Sequence           int64 // Per-account source sequence
	Timestamp          time.Time
}

func (p *PositionUpdate) IdempotencyKey() string {
	return p.UpdateID.String()
}

func (p *PositionUpdate) EventType() EventType {
	return EventTypePositionUpdate
}

func (p *PositionUpdate) Partition() string {
	return fmt.Sprintf("account:%s", p.Account)
}

func (p *PositionUpdate) SourceSequence() int64 {
	return p.Sequence
}

func (p *PositionUpdate) EventTimestamp() time.Time {
	return p.Timestamp
}

// PositionResult is the logged outcome of a PositionUpdate.
type PositionResult struct {
	Account     uuid.UUID   `json:"account"`
	Placements  []Placement `json:"placements"`
	Unpaid      string      `json:"unpaid_penalty"`
	HighestLeaf [2]int      `json:"highest_leaf"`
	Rejection   string      `json:"rejection,omitempty"`
}

// Placement is an account's footprint in one tree after an update.
type Placement struct {
	Tree         string `json:"tree"`
	StartTranche int16  `json:"start_tranche"`
	Tranches     int    `json:"tranches"`
	SatAbs       string `json:"sat_abs"`
}
