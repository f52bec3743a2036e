package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/testutil"
	"SatLedger/migrations"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRow(seq int64) EventRow {
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: fmt.Sprintf("accrual:%d", seq),
		EventType:      event.EventTypePenaltyAccrual,
		Partition:      "penalty",
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
		SourceSequence: seq,
		Status:         event.StatusApplied,
		Payload:        []byte(`{"amount":"0"}`),
	}
	env.StateHash[0] = byte(seq + 1)
	env.PrevHash[0] = byte(seq)
	return NewEventRow(env, []byte(`{"epoch_id":0}`))
}

// ============================================================================
// Test: event rows and batch inserts
// ============================================================================

func TestNewEventRow(t *testing.T) {
	row := testRow(3)
	assert.Equal(t, "PenaltyAccrual", row.EventType)
	assert.Equal(t, "penalty", row.Partition)
	assert.Equal(t, event.StatusApplied, row.Status)
	require.Len(t, row.StateHash, 32)
	require.Len(t, row.PrevHash, 32)

	h, err := row.StateHash32()
	require.NoError(t, err)
	assert.Equal(t, byte(4), h[0])

	row.StateHash = row.StateHash[:31]
	_, err = row.StateHash32()
	assert.Error(t, err)
}

func TestBuildEventInsert(t *testing.T) {
	rows := []EventRow{testRow(0), testRow(1)}
	query, args := buildEventInsert(rows)

	require.Len(t, args, 2*eventColumns)
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")
	assert.Contains(t, query, "($12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)")
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (sequence) DO NOTHING"))

	// JSON payloads are bound as text.
	assert.Equal(t, `{"epoch_id":0}`, args[6])
	assert.Equal(t, `{"amount":"0"}`, args[7])
	assert.Equal(t, int64(1), args[eventColumns])
}

// ============================================================================
// Test: migrations
// ============================================================================

func TestListMigrationFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1")},
		"000001_a.down.sql": {Data: []byte("SELECT 1")},
		"README.md":         {Data: []byte("docs")},
	}
	files, err := listMigrationFiles(fsys, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, files)

	assert.Equal(t, "000002", extractVersion("000002_b.up.sql"))
	assert.Equal(t, "noversion.up.sql", extractVersion("noversion.up.sql"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := listMigrationFiles(migrations.FS, ".up.sql")
	require.NoError(t, err)
	downs, err := listMigrationFiles(migrations.FS, ".down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
	for i := range ups {
		assert.Equal(t, strings.TrimSuffix(ups[i], ".up.sql"), strings.TrimSuffix(downs[i], ".down.sql"))
	}
}

// ============================================================================
// Test: Postgres round trip (INTEGRATION_TEST=1)
// ============================================================================

func TestEventLog_WriteReplayAndDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, NewMigrator(db, migrations.FS, zerolog.Nop()).Up(ctx))

	reader := NewEventLogReader(db)
	latest, err := reader.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), latest)

	ch := make(chan EventRow, 3)
	worker := NewPersistenceWorker(db, ch, 2, 5*time.Millisecond, nil, zerolog.Nop())
	var flushed []int64
	worker.OnFlushed(func(rows []EventRow) {
		for _, r := range rows {
			flushed = append(flushed, r.Sequence)
		}
	})
	for seq := int64(0); seq < 3; seq++ {
		ch <- testRow(seq)
	}
	close(ch)
	require.NoError(t, worker.Run(ctx))
	assert.Equal(t, []int64{0, 1, 2}, flushed)

	var replayed []EventRow
	n, err := reader.Replay(ctx, 2, func(row EventRow) error {
		replayed = append(replayed, row)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, replayed, 3)
	assert.Equal(t, testRow(2).StateHash, replayed[2].StateHash)
	assert.Equal(t, "penalty", replayed[2].Partition)

	dup, err := NewPostgresIdempotencyChecker(db).IsDuplicate("PenaltyAccrual", testRow(1).IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = NewPostgresIdempotencyChecker(db).IsDuplicate("PenaltyAccrual", "accrual:99")
	require.NoError(t, err)
	assert.False(t, dup)
}
