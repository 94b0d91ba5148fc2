package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/clock"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

const dispatchBatchSize = 256

// Dispatcher drains the event outbox onto the bus. Marking rows dispatched
// happens after publication, so a crash between the two replays the batch —
// at-least-once, never at-most-once.
type Dispatcher struct {
	events   domain.EventRepository
	bus      *Bus
	clock    clock.Clock
	interval time.Duration
}

// NewDispatcher creates a dispatcher polling at the given interval.
func NewDispatcher(events domain.EventRepository, bus *Bus, clk clock.Clock, interval time.Duration) *Dispatcher {
	return &Dispatcher{events: events, bus: bus, clock: clk, interval: interval}
}

// Run dispatches on a ticker until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Dispatch(ctx); err != nil {
				slog.Error("event dispatch", "error", err)
			}
		}
	}
}

// Dispatch publishes one batch of undispatched events and marks them done.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	events, err := d.events.ListUndispatched(ctx, dispatchBatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	ids := make([]int64, len(events))
	for i := range events {
		d.bus.Publish(events[i])
		ids[i] = events[i].ID
	}

	return d.events.MarkDispatched(ctx, ids, d.clock.Now())
}
