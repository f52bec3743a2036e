package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccountPenaltiesResponse is an account's placement and penalty totals.
// Amounts are base-10 strings.
type AccountPenaltiesResponse struct {
	Account       uuid.UUID       `json:"account"`
	Placements    json.RawMessage `json:"placements"`
	Unpaid        string          `json:"unpaid"`
	ClaimedTotal  string          `json:"claimed_total"`
	Claims        int64           `json:"claims"`
	Rejections    int64           `json:"rejections"`
	LastRejection string          `json:"last_rejection,omitempty"`
	LastSequence  int64           `json:"last_sequence"`
	UpdatedAt     time.Time       `json:"updated_at"`
	RecentClaims  []ClaimResponse `json:"recent_claims"`
	AsOfSequence  int64           `json:"as_of_sequence"`
}

// ClaimResponse is one realized claim.
type ClaimResponse struct {
	Sequence  int64     `json:"sequence"`
	Amount    string    `json:"amount"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// AccrualResponse is one penalty epoch.
type AccrualResponse struct {
	EpochID         int64     `json:"epoch_id"`
	Sequence        int64     `json:"sequence"`
	DurationSeconds int64     `json:"duration_seconds"`
	Amount          string    `json:"amount"`
	HighestLeafX    int       `json:"highest_leaf_x"`
	HighestLeafY    int       `json:"highest_leaf_y"`
	AccruedAt       time.Time `json:"accrued_at"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	MissingCount    int64   `json:"missing_sequences"`
	Rejected        int64   `json:"rejected_commands"`
}
