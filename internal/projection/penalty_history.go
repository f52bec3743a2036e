package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"SatLedger/internal/event"
)

// Penalty history is kept in three tables: one row per accrual epoch, one
// row per claim and one running row per account.

func applyOutput(ctx context.Context, tx *sql.Tx, out ProjectionOutput) error {
	switch {
	case out.Position != nil:
		return applyPosition(ctx, tx, out)
	case out.Accrual != nil:
		return applyAccrual(ctx, tx, out)
	case out.Claim != nil:
		return applyClaim(ctx, tx, out)
	}
	return fmt.Errorf("seq %d: empty projection output", out.Sequence)
}

func applyPosition(ctx context.Context, tx *sql.Tx, out ProjectionOutput) error {
	res := out.Position
	if out.Status == event.StatusRejected {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.account_penalties
				(account, rejections, last_rejection, last_sequence, updated_at)
			VALUES ($1, 1, $2, $3, $4)
			ON CONFLICT (account) DO UPDATE SET
				rejections = projections.account_penalties.rejections + 1,
				last_rejection = EXCLUDED.last_rejection,
				last_sequence = EXCLUDED.last_sequence,
				updated_at = EXCLUDED.updated_at
		`, res.Account, res.Rejection, out.Sequence, out.Timestamp)
		return err
	}

	placements, err := json.Marshal(nonNil(res.Placements))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.account_penalties
			(account, placements, unpaid, last_sequence, updated_at)
		VALUES ($1, $2::jsonb, $3::numeric, $4, $5)
		ON CONFLICT (account) DO UPDATE SET
			placements = EXCLUDED.placements,
			unpaid = EXCLUDED.unpaid,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
	`, res.Account, string(placements), res.Unpaid, out.Sequence, out.Timestamp)
	return err
}

func applyAccrual(ctx context.Context, tx *sql.Tx, out ProjectionOutput) error {
	res := out.Accrual
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.penalty_accruals
			(epoch_id, sequence, duration_seconds, amount, highest_leaf_x, highest_leaf_y, accrued_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (epoch_id) DO NOTHING
	`, res.EpochID, out.Sequence, int64(res.DurationSeconds), res.Amount,
		res.HighestLeaf[0], res.HighestLeaf[1], out.Timestamp)
	return err
}

func applyClaim(ctx context.Context, tx *sql.Tx, out ProjectionOutput) error {
	res := out.Claim
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.penalty_claims (sequence, account, amount, claimed_at)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (sequence) DO NOTHING
	`, out.Sequence, res.Account, res.Amount, out.Timestamp); err != nil {
		return err
	}
	// A claim realizes everything owed, including unpaid penalty.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.account_penalties
			(account, claimed_total, claims, last_sequence, updated_at)
		VALUES ($1, $2::numeric, 1, $3, $4)
		ON CONFLICT (account) DO UPDATE SET
			claimed_total = projections.account_penalties.claimed_total + EXCLUDED.claimed_total,
			claims = projections.account_penalties.claims + 1,
			unpaid = 0,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = EXCLUDED.updated_at
	`, res.Account, res.Amount, out.Sequence, out.Timestamp)
	return err
}

func nonNil(p []event.Placement) []event.Placement {
	if p == nil {
		return []event.Placement{}
	}
	return p
}
