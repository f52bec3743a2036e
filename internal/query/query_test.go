package query

import (
	"context"
	"testing"
	"time"

	"SatLedger/internal/persistence"
	"SatLedger/internal/testutil"
	"SatLedger/migrations"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, maxPageSize, clampLimit(0))
	assert.Equal(t, maxPageSize, clampLimit(-3))
	assert.Equal(t, 20, clampLimit(20))
	assert.Equal(t, maxPageSize, clampLimit(maxPageSize+1))
}

// ============================================================================
// Test: projection queries (INTEGRATION_TEST=1)
// ============================================================================

func TestQueryService_Penalties(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, migrations.FS, zerolog.Nop()).Up(ctx))

	qs := NewQueryService(db)
	account := uuid.New()
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := qs.GetAccountPenalties(ctx, account, 5)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = qs.GetAccrual(ctx, 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.account_penalties
			(account, placements, unpaid, claimed_total, claims, last_sequence, updated_at)
		VALUES ($1, '[{"tree":"net_y"}]', 0, 300000000000000000000000, 2, 7, $2)
	`, account, now)
	require.NoError(t, err)
	for i, amount := range []string{"100000000000000000000000", "200000000000000000000000"} {
		_, err = db.ExecContext(ctx, `
			INSERT INTO projections.penalty_claims (sequence, account, amount, claimed_at)
			VALUES ($1, $2, $3::numeric, $4)
		`, int64(5+i), account, amount, now)
		require.NoError(t, err)
	}
	for epoch := int64(0); epoch < 3; epoch++ {
		_, err = db.ExecContext(ctx, `
			INSERT INTO projections.penalty_accruals
				(epoch_id, sequence, duration_seconds, amount, highest_leaf_x, highest_leaf_y, accrued_at)
			VALUES ($1, $2, 60, 10, -1, 1697, $3)
		`, epoch, epoch+1, now)
		require.NoError(t, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at) VALUES ('main', 7, NOW())
	`)
	require.NoError(t, err)

	resp, err := qs.GetAccountPenalties(ctx, account, 1)
	require.NoError(t, err)
	assert.Equal(t, "300000000000000000000000", resp.ClaimedTotal)
	assert.Equal(t, int64(2), resp.Claims)
	assert.Equal(t, int64(7), resp.AsOfSequence)
	require.Len(t, resp.RecentClaims, 1)
	assert.Equal(t, int64(6), resp.RecentClaims[0].Sequence)

	before := int64(6)
	older, err := qs.GetClaimHistory(ctx, account, 10, &before)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "100000000000000000000000", older[0].Amount)

	a, err := qs.GetAccrual(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "10", a.Amount)
	assert.Equal(t, 1697, a.HighestLeafY)

	beforeEpoch := int64(2)
	list, err := qs.ListAccruals(ctx, 10, &beforeEpoch)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].EpochID)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.Equal(t, int64(-1), report.LatestSequence)
}
