package projection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/persistence"
	"SatLedger/internal/projection"
	"SatLedger/internal/testutil"
	"SatLedger/migrations"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logRow(t *testing.T, seq int64, typ event.EventType, status string, result interface{}) persistence.EventRow {
	t.Helper()
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		EventType:      typ,
		Partition:      "test",
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
		Status:         status,
		Payload:        payload,
	}
	return persistence.NewEventRow(env, []byte(`{}`))
}

func TestFromEventRow(t *testing.T) {
	account := uuid.New()
	row := logRow(t, 4, event.EventTypePenaltyClaim, event.StatusApplied, &event.ClaimResult{Account: account, Amount: "12"})

	out, err := projection.FromEventRow(row)
	require.NoError(t, err)
	assert.Equal(t, int64(4), out.Sequence)
	require.NotNil(t, out.Claim)
	assert.Nil(t, out.Position)
	assert.Equal(t, account, out.Claim.Account)
	assert.Equal(t, "12", out.Claim.Amount)

	row.EventType = "TradeFill"
	_, err = projection.FromEventRow(row)
	assert.Error(t, err)

	row = logRow(t, 5, event.EventTypePenaltyAccrual, event.StatusApplied, "not an object")
	_, err = projection.FromEventRow(row)
	assert.Error(t, err)
}

func TestFromResult(t *testing.T) {
	env := &event.EventEnvelope{Sequence: 9, EventType: event.EventTypePositionUpdate, Status: event.StatusRejected}
	out, err := projection.FromResult(env, &event.PositionResult{Rejection: "capacity"})
	require.NoError(t, err)
	require.NotNil(t, out.Position)
	assert.Equal(t, event.StatusRejected, out.Status)

	_, err = projection.FromResult(env, "nope")
	assert.Error(t, err)
}

// ============================================================================
// Test: Postgres projections (INTEGRATION_TEST=1)
// ============================================================================

func TestProjectionWorker_CatchesUpFromLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, migrations.FS, zerolog.Nop()).Up(ctx))

	account := uuid.New()
	rows := []persistence.EventRow{
		logRow(t, 0, event.EventTypePositionUpdate, event.StatusApplied, &event.PositionResult{
			Account:    account,
			Placements: []event.Placement{{Tree: "net_y", StartTranche: 0, Tranches: 1, SatAbs: "1000"}},
			Unpaid:     "0",
		}),
		logRow(t, 1, event.EventTypePenaltyAccrual, event.StatusApplied, &event.AccrualResult{EpochID: 0, DurationSeconds: 60, Amount: "250"}),
		logRow(t, 2, event.EventTypePenaltyClaim, event.StatusApplied, &event.ClaimResult{Account: account, Amount: "250"}),
		logRow(t, 3, event.EventTypePositionUpdate, event.StatusRejected, &event.PositionResult{Account: account, Rejection: "capacity exceeded"}),
	}
	ch := make(chan persistence.EventRow, len(rows))
	for _, r := range rows {
		ch <- r
	}
	close(ch)
	require.NoError(t, persistence.NewPersistenceWorker(db, ch, 10, time.Millisecond, nil, zerolog.Nop()).Run(ctx))

	live := make(chan projection.ProjectionOutput)
	close(live)
	pw := projection.NewProjectionWorker(db, live, nil, zerolog.Nop())
	require.NoError(t, pw.Run(ctx))
	assert.Equal(t, int64(3), pw.LastSequence())

	var claimed, unpaid string
	var claims, rejections int64
	require.NoError(t, db.QueryRowContext(ctx, `
		SELECT claimed_total::text, unpaid::text, claims, rejections
		FROM projections.account_penalties WHERE account = $1`, account,
	).Scan(&claimed, &unpaid, &claims, &rejections))
	assert.Equal(t, "250", claimed)
	assert.Equal(t, "0", unpaid)
	assert.Equal(t, int64(1), claims)
	assert.Equal(t, int64(1), rejections)

	require.NoError(t, projection.RebuildProjections(ctx, db, zerolog.Nop()))
	var epochs int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.penalty_accruals`).Scan(&epochs))
	assert.Equal(t, 1, epochs)
}
