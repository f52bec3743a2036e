package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const maxPageSize = 500

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// GetAccountPenalties returns an account's placement, penalty totals and its
// most recent claims.
func (qs *QueryService) GetAccountPenalties(ctx context.Context, account uuid.UUID, recentClaims int) (*AccountPenaltiesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &AccountPenaltiesResponse{Account: account, AsOfSequence: asOfSeq}
	var placements []byte
	var lastRejection sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT placements, unpaid::text, claimed_total::text, claims, rejections,
		       last_rejection, last_sequence, updated_at
		FROM projections.account_penalties
		WHERE account = $1
	`, account).Scan(
		&placements, &resp.Unpaid, &resp.ClaimedTotal, &resp.Claims, &resp.Rejections,
		&lastRejection, &resp.LastSequence, &resp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	resp.Placements = placements
	resp.LastRejection = lastRejection.String

	resp.RecentClaims, err = qs.GetClaimHistory(ctx, account, recentClaims, nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetClaimHistory returns an account's claims, newest first. beforeSequence
// is the pagination cursor.
func (qs *QueryService) GetClaimHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]ClaimResponse, error) {
	query := `
		SELECT sequence, amount::text, claimed_at
		FROM projections.penalty_claims
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := []ClaimResponse{}
	for rows.Next() {
		var c ClaimResponse
		if err := rows.Scan(&c.Sequence, &c.Amount, &c.ClaimedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// GetAccrual returns one penalty epoch.
func (qs *QueryService) GetAccrual(ctx context.Context, epochID int64) (*AccrualResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	a := &AccrualResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT epoch_id, sequence, duration_seconds, amount::text, highest_leaf_x, highest_leaf_y, accrued_at
		FROM projections.penalty_accruals
		WHERE epoch_id = $1
	`, epochID).Scan(
		&a.EpochID, &a.Sequence, &a.DurationSeconds, &a.Amount, &a.HighestLeafX, &a.HighestLeafY, &a.AccruedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccruals returns penalty epochs, newest first.
func (qs *QueryService) ListAccruals(ctx context.Context, limit int, beforeEpoch *int64) ([]AccrualResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT epoch_id, sequence, duration_seconds, amount::text, highest_leaf_x, highest_leaf_y, accrued_at
		FROM projections.penalty_accruals
	`
	args := []interface{}{}
	argIdx := 1
	if beforeEpoch != nil {
		query += fmt.Sprintf(" WHERE epoch_id < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}
	query += " ORDER BY epoch_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accruals := []AccrualResponse{}
	for rows.Next() {
		a := AccrualResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&a.EpochID, &a.Sequence, &a.DurationSeconds, &a.Amount, &a.HighestLeafX, &a.HighestLeafY, &a.AccruedAt,
		); err != nil {
			return nil, err
		}
		accruals = append(accruals, a)
	}
	return accruals, rows.Err()
}
