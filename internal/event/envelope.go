package event

import (
	"time"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionUpdate
	EventTypePenaltyAccrual
	EventTypePenaltyClaim
)

// Status of an applied command.
const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Ordering partition, e.g. "account:<uuid>" or "penalty"
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// StatusApplied or StatusRejected
	Status string

	// JSON-encoded result of the command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Partition is the ordering scope of SourceSequence
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTimestamp is the versioned input time
	EventTimestamp() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionUpdate:
		return "PositionUpdate"
	case EventTypePenaltyAccrual:
		return "PenaltyAccrual"
	case EventTypePenaltyClaim:
		return "PenaltyClaim"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	switch s {
	case "PositionUpdate":
		return EventTypePositionUpdate
	case "PenaltyAccrual":
		return EventTypePenaltyAccrual
	case "PenaltyClaim":
		return EventTypePenaltyClaim
	default:
		return EventTypeUnknown
	}
}
