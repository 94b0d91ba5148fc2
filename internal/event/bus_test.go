package event_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/clock"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/event"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/repository/sqlite"
)

func TestBusFiltersByUser(t *testing.T) {
	bus := event.NewBus()

	mine, cancelMine := bus.Subscribe(1, 4)
	defer cancelMine()
	all, cancelAll := bus.Subscribe(0, 4)
	defer cancelAll()

	bus.Publish(domain.Event{Kind: domain.EventSessionStarted, UserID: 1, SessionID: "a"})
	bus.Publish(domain.Event{Kind: domain.EventSessionStarted, UserID: 2, SessionID: "b"})

	select {
	case e := <-mine:
		if e.UserID != 1 {
			t.Fatalf("user subscription received foreign event for user %d", e.UserID)
		}
	default:
		t.Fatal("user subscription missed its event")
	}
	select {
	case e := <-mine:
		t.Fatalf("user subscription received foreign event %s", e.SessionID)
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		default:
			t.Fatalf("wildcard subscription missed event %d", i)
		}
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := event.NewBus()

	ch, cancel := bus.Subscribe(1, 1)
	cancel()
	cancel() // double cancel is safe

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	bus.Publish(domain.Event{Kind: domain.EventSessionPaused, UserID: 1})
}

func TestBusFullBufferDropsNotBlocks(t *testing.T) {
	bus := event.NewBus()

	ch, cancel := bus.Subscribe(1, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish(domain.Event{Kind: domain.EventSessionStarted, UserID: 1})
		bus.Publish(domain.Event{Kind: domain.EventSessionPaused, UserID: 1})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	if e := <-ch; e.Kind != domain.EventSessionStarted {
		t.Fatalf("expected the first event to survive, got %s", e.Kind)
	}
}

func TestDispatcherDrainsOutbox(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Seed the outbox through a session write, the only way events enter it.
	session := &domain.Session{
		ID:        "sess-1",
		UserID:    1,
		State:     domain.StateInProgress,
		StartedAt: time.Now().UTC(),
	}
	resumed := session.StartedAt
	session.LastResumedAt = &resumed
	if err := db.Sessions().Create(ctx, session,
		domain.Event{Kind: domain.EventSessionStarted, UserID: 1, SessionID: session.ID, Payload: []byte("{}")},
	); err != nil {
		t.Fatalf("create session: %v", err)
	}

	bus := event.NewBus()
	ch, cancel := bus.Subscribe(1, 4)
	defer cancel()

	dispatcher := event.NewDispatcher(db.Events(), bus, clock.Real{}, time.Second)
	if err := dispatcher.Dispatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case e := <-ch:
		if e.Kind != domain.EventSessionStarted || e.SessionID != session.ID {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("dispatched event never reached the subscriber")
	}

	// A second pass finds a drained outbox and publishes nothing.
	if err := dispatcher.Dispatch(ctx); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	select {
	case e := <-ch:
		t.Fatalf("outbox replayed a marked event: %+v", e)
	default:
	}
}
