package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SatLedger/internal/observability"
	"SatLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker updates projection tables from processed commands.
// The projection channel drops when full, so the worker tracks a watermark
// and fills holes from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	reader    *persistence.EventLogReader
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		reader:    persistence.NewEventLogReader(db),
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
		lastSeq:   -1,
	}
}

// Run loads the watermark, catches up from the log and then follows the
// live channel.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := pw.loadWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = last
	if err := pw.CatchUp(ctx); err != nil {
		pw.log.Warn().Err(err).Msg("projection catch-up failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}
			if output.Sequence > pw.lastSeq+1 {
				// Dropped outputs. The log may trail the live channel; whatever
				// is still missing is picked up on the next gap or restart.
				if err := pw.CatchUp(ctx); err != nil {
					pw.log.Warn().Err(err).Int64("from", pw.lastSeq+1).Msg("projection catch-up failed")
				}
				if output.Sequence <= pw.lastSeq {
					continue
				}
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.log.Warn().Err(err).Int64("seq", output.Sequence).Msg("projection update failed")
				continue
			}
		}
	}
}

// CatchUp applies every logged row past the watermark.
func (pw *ProjectionWorker) CatchUp(ctx context.Context) error {
	const batchSize = 500
	for {
		rows, err := pw.reader.LoadEventsFrom(ctx, pw.lastSeq+1, batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			out, err := FromEventRow(row)
			if err != nil {
				return err
			}
			if err := pw.processOutput(ctx, out); err != nil {
				return err
			}
		}
		if len(rows) < batchSize {
			return nil
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyOutput(ctx, tx, output); err != nil {
		return fmt.Errorf("%s projection: %w", output.EventType, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	pw.lastSeq = output.Sequence
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType.String()).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) (int64, error) {
	var last int64
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return last, err
}

// LastSequence is the last sequence applied to the projections.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// RebuildProjections truncates all projection tables and replays the whole
// event log into them.
func RebuildProjections(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.penalty_accruals`,
		`TRUNCATE projections.penalty_claims`,
		`TRUNCATE projections.account_penalties`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	pw := NewProjectionWorker(db, nil, nil, log)
	if err := pw.CatchUp(ctx); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	log.Info().Int64("last_sequence", pw.lastSeq).Msg("projection rebuild complete")
	return nil
}
