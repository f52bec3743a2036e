package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/ingestion"
	"SatLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectTestNATS(t *testing.T) jetstream.JetStream {
	t.Helper()
	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	t.Cleanup(nc.Close)
	return js
}

// ============================================================================
// Test: JetStream round trips
// ============================================================================

func TestNATSSubscriber_DeliversToForward(t *testing.T) {
	testutil.RequireIntegration(t)
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	// A run-scoped subject and consumer keep earlier messages out.
	runID := uuid.NewString()
	subjects := []ingestion.SubjectConfig{{
		Subject:      "sat.positions." + runID,
		EventType:    event.EventTypePositionUpdate,
		ConsumerName: "satledger-it-" + runID,
		StreamName:   "SAT_POSITIONS",
	}}
	t.Cleanup(func() {
		_ = js.DeleteConsumer(context.Background(), "SAT_POSITIONS", subjects[0].ConsumerName)
	})

	rawChan := make(chan ingestion.RawEvent, 1)
	sub := ingestion.NewNATSSubscriber(js, rawChan, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, subjects))
	defer sub.Stop()

	out := make(chan event.Event, 1)
	go ingestion.Forward(ctx, rawChan, out, ingestion.NewSubjectRouter(subjects), zerolog.Nop())

	data, err := json.Marshal(positionPayload())
	require.NoError(t, err)
	_, err = js.Publish(ctx, subjects[0].Subject, data)
	require.NoError(t, err)

	select {
	case evt := <-out:
		pu, ok := evt.(*event.PositionUpdate)
		require.True(t, ok, "expected *event.PositionUpdate, got %T", evt)
		assert.Equal(t, "660e8400-e29b-41d4-a716-446655440001", pu.Account.String())
		assert.Equal(t, "4000000000000000000", pu.Inputs.BorrowY.Dec())
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting for the forwarded command")
	}
}

func TestOutboundPublisher_PublishesProcessedCommands(t *testing.T) {
	testutil.RequireIntegration(t)
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, ingestion.EnsureOutboundStream(ctx, js, zerolog.Nop()))

	evt := ingestion.PublishableEvent{
		Sequence:       time.Now().UnixNano(),
		EventType:      event.EventTypePenaltyClaim.String(),
		IdempotencyKey: "claim:" + uuid.NewString(),
		Partition:      "account:660e8400-e29b-41d4-a716-446655440001",
		Status:         "applied",
		Result:         json.RawMessage(`{"amount":"7"}`),
		Timestamp:      time.Now().UTC(),
	}

	consumer, err := js.OrderedConsumer(ctx, "SAT_LEDGER_EVENTS", jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{evt.Subject()},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	require.NoError(t, err)

	in := make(chan ingestion.PublishableEvent, 2)
	publisher := ingestion.NewOutboundPublisher(js, in, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- publisher.Run(ctx) }()

	// The second send carries the same msg id and is deduplicated.
	in <- evt
	in <- evt
	close(in)
	require.NoError(t, <-done)

	msg, err := consumer.Next(jetstream.FetchMaxWait(5 * time.Second))
	require.NoError(t, err)
	var got ingestion.PublishableEvent
	require.NoError(t, json.Unmarshal(msg.Data(), &got))
	assert.Equal(t, evt.Sequence, got.Sequence)
	assert.Equal(t, evt.IdempotencyKey, got.IdempotencyKey)
	assert.JSONEq(t, `{"amount":"7"}`, string(got.Result))

	_, err = consumer.Next(jetstream.FetchMaxWait(time.Second))
	assert.Error(t, err, "duplicate publish was delivered")
}
