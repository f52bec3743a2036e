package ingestion

import (
	"context"
	"fmt"

	"SatLedger/internal/event"
)

// AdminIngestService accepts manually injected commands. It is for admin
// operations and backfills; high-throughput producers use NATS.
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// Inject parses body as a command of the given type and queues it for the
// core. It returns the parsed command; the core applies it asynchronously.
func (s *AdminIngestService) Inject(ctx context.Context, eventType event.EventType, body []byte) (event.Event, error) {
	evt, err := ParseAdminEvent(eventType, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	select {
	case s.eventChan <- evt:
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrInvalidCommand marks request bodies that could not be parsed.
var ErrInvalidCommand = fmt.Errorf("invalid command")
