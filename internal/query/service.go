package query

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a projection has no row for the key.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the projection watermark it was read at.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and sequence density of the
// event log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{LatestSequence: -1}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	var count, rejected int64
	if err := qs.db.QueryRowContext(ctx, `
		SELECT MAX(sequence), COUNT(*), COUNT(*) FILTER (WHERE status = 'rejected')
		FROM event_log.events
	`).Scan(&latest, &count, &rejected); err != nil {
		return nil, err
	}
	if latest.Valid {
		report.LatestSequence = latest.Int64
	}
	report.MissingCount = report.LatestSequence + 1 - count
	report.Rejected = rejected

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.MissingCount == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
