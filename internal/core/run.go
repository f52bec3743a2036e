package core

import (
	"context"
	"errors"
	"time"

	"SatLedger/internal/event"
	"SatLedger/internal/saturation"
)

// ErrCoreStopped is returned by Read once the core loop has exited.
var ErrCoreStopped = errors.New("core stopped")

// ReadFunc inspects core state. It runs on the core goroutine and must not
// retain the handle or mutate it.
type ReadFunc func(sat *saturation.Saturation) error

type readRequest struct {
	name string
	fn   ReadFunc
	done chan error
}

// Run is the core loop: it drains both command sources and serves reads in
// between commands until ctx is cancelled or both sources close.
func (c *DeterministicCore) Run(ctx context.Context, ingest, admin <-chan event.Event) error {
	defer close(c.done)
	for ingest != nil || admin != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ingest:
			if !ok {
				ingest = nil
				continue
			}
			c.process(evt, "nats")
		case evt, ok := <-admin:
			if !ok {
				admin = nil
				continue
			}
			c.process(evt, "admin")
		case req := <-c.reads:
			req.done <- req.fn(c.sat)
		}
	}
	return nil
}

func (c *DeterministicCore) process(evt event.Event, source string) {
	if err := c.ProcessEvent(evt); err != nil {
		c.log.Error().
			Err(err).
			Str("source", source).
			Str("event_type", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).
			Msg("ProcessEvent failed")
	}
}

// Read runs fn on the core goroutine and waits for it.
func (c *DeterministicCore) Read(ctx context.Context, name string, fn ReadFunc) error {
	start := time.Now()
	req := readRequest{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case c.reads <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrCoreStopped
	}
	select {
	case err := <-req.done:
		if c.metrics != nil {
			c.metrics.CoreReadDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
