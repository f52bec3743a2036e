package persistence

import (
	"context"
	"database/sql"
)

// EventLogReader reads the event log back for replay and audits.
type EventLogReader struct {
	db *sql.DB
}

func NewEventLogReader(db *sql.DB) *EventLogReader {
	return &EventLogReader{db: db}
}

// LoadEventsFrom loads up to limit rows starting at fromSequence.
func (r *EventLogReader) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition_key, source_sequence, status,
		       command, result, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition, &e.SourceSequence, &e.Status,
			&e.Command, &e.Result, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (r *EventLogReader) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// ReplayFunc consumes one logged row. Returning an error stops the replay.
type ReplayFunc func(row EventRow) error

// Replay streams the whole log from sequence 0 through fn in batches and
// returns the number of rows replayed.
func (r *EventLogReader) Replay(ctx context.Context, batchSize int, fn ReplayFunc) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total, from int64
	for {
		rows, err := r.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return total, err
			}
			total++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
}
