package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SatLedger/internal/event"
)

// EventLogWriter writes the audit event log using multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events. Command holds the wire
// encoding of the input so the core can be rebuilt by replay; Result is the
// JSON outcome the core produced.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Partition      string
	SourceSequence int64
	Status         string
	Command        []byte
	Result         []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// NewEventRow flattens an envelope and the encoded command into a row.
func NewEventRow(env *event.EventEnvelope, command []byte) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		SourceSequence: env.SourceSequence,
		Status:         env.Status,
		Command:        command,
		Result:         env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}
}

// StateHash32 returns the row's state hash as an array.
func (r *EventRow) StateHash32() ([32]byte, error) {
	var h [32]byte
	if len(r.StateHash) != len(h) {
		return h, fmt.Errorf("seq %d: state hash has %d bytes", r.Sequence, len(r.StateHash))
	}
	copy(h[:], r.StateHash)
	return h, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

const eventColumns = 11

// buildEventInsert renders the multi-row INSERT for a batch.
func buildEventInsert(events []EventRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, partition_key, source_sequence, status,
		 command, result, state_hash, prev_hash, timestamp)
		VALUES `)

	args := make([]interface{}, 0, len(events)*eventColumns)
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 1; c <= eventColumns; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*eventColumns+c)
		}
		b.WriteByte(')')
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Partition, e.SourceSequence, e.Status,
			// JSONB columns take text; lib/pq would send []byte as bytea.
			string(e.Command), string(e.Result), e.StateHash, e.PrevHash, e.Timestamp,
		)
	}
	b.WriteString(" ON CONFLICT (sequence) DO NOTHING") // Idempotent writes
	return b.String(), args
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildEventInsert(events)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
