package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/persistence"
)

// ProjectionOutput is what projection workers consume: the envelope fields
// they index by plus exactly one typed result.
type ProjectionOutput struct {
	Sequence  int64
	EventType event.EventType
	Status    string
	Timestamp time.Time

	Position *event.PositionResult
	Accrual  *event.AccrualResult
	Claim    *event.ClaimResult
}

// FromResult builds an output from a live core result.
func FromResult(env *event.EventEnvelope, result interface{}) (ProjectionOutput, error) {
	out := ProjectionOutput{
		Sequence:  env.Sequence,
		EventType: env.EventType,
		Status:    env.Status,
		Timestamp: env.Timestamp,
	}
	switch r := result.(type) {
	case *event.PositionResult:
		out.Position = r
	case *event.AccrualResult:
		out.Accrual = r
	case *event.ClaimResult:
		out.Claim = r
	default:
		return out, fmt.Errorf("seq %d: unexpected result %T", env.Sequence, result)
	}
	return out, nil
}

// FromEventRow decodes the logged result of a row; used to catch up and to
// rebuild from the event log.
func FromEventRow(row persistence.EventRow) (ProjectionOutput, error) {
	out := ProjectionOutput{
		Sequence:  row.Sequence,
		EventType: event.ParseEventType(row.EventType),
		Status:    row.Status,
		Timestamp: row.Timestamp,
	}
	var target interface{}
	switch out.EventType {
	case event.EventTypePositionUpdate:
		out.Position = new(event.PositionResult)
		target = out.Position
	case event.EventTypePenaltyAccrual:
		out.Accrual = new(event.AccrualResult)
		target = out.Accrual
	case event.EventTypePenaltyClaim:
		out.Claim = new(event.ClaimResult)
		target = out.Claim
	default:
		return out, fmt.Errorf("seq %d: unknown event type %q", row.Sequence, row.EventType)
	}
	if err := json.Unmarshal(row.Result, target); err != nil {
		return out, fmt.Errorf("seq %d: decode %s result: %w", row.Sequence, row.EventType, err)
	}
	return out, nil
}
