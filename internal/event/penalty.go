package event

import (
	"fmt"
	"time"

	"SatLedger/internal/saturation"

	"github.com/google/uuid"
)

// PenaltyAccrual charges over-saturated leaves for one epoch.
// Idempotency key: "accrual:{epoch_id}". Epochs are the source sequence.
type PenaltyAccrual struct {
	EpochID         int64
	DurationSeconds uint64
	Utilization     saturation.UtilizationInputs
	Timestamp       time.Time
}

func (p *PenaltyAccrual) IdempotencyKey() string {
	return fmt.Sprintf("accrual:%d", p.EpochID)
}

func (p *PenaltyAccrual) EventType() EventType {
	return EventTypePenaltyAccrual
}

func (p *PenaltyAccrual) Partition() string {
	return "penalty"
}

func (p *PenaltyAccrual) SourceSequence() int64 {
	return p.EpochID
}

func (p *PenaltyAccrual) EventTimestamp() time.Time {
	return p.Timestamp
}

// AccrualResult is the logged outcome of a PenaltyAccrual.
type AccrualResult struct {
	EpochID         int64  `json:"epoch_id"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Amount          string `json:"amount"`
	HighestLeaf     [2]int `json:"highest_leaf"`
}

// PenaltyClaim realizes and clears everything an account owes.
// Idempotency key: "claim:{claim_id}".
type PenaltyClaim struct {
	ClaimID   uuid.UUID
	Account   uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (p *PenaltyClaim) IdempotencyKey() string {
	return fmt.Sprintf("claim:%s", p.ClaimID)
}

func (p *PenaltyClaim) EventType() EventType {
	return EventTypePenaltyClaim
}

func (p *PenaltyClaim) Partition() string {
	return fmt.Sprintf("claim:%s", p.Account)
}

func (p *PenaltyClaim) SourceSequence() int64 {
	return p.Sequence
}

func (p *PenaltyClaim) EventTimestamp() time.Time {
	return p.Timestamp
}

// ClaimResult is the logged outcome of a PenaltyClaim.
type ClaimResult struct {
	Account uuid.UUID `json:"account"`
	Amount  string    `json:"amount"`
}
