package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/service"
)

func newTestReaper(e *engine, idleTimeout time.Duration) *service.Reaper {
	return service.NewReaper(e.service, e.sessions, e.clock, idleTimeout, time.Minute)
}

func TestReaperExpiresStaleSession(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	session, err := e.service.Start(ctx, 1, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The session sits untouched well past the idle timeout.
	e.clock.Advance(3 * time.Hour)

	reaper := newTestReaper(e, time.Hour)
	if err := reaper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := e.sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StateError {
		t.Fatalf("expected error state, got %s", got.State)
	}
	if got.ErrorReason != domain.ReasonExpired {
		t.Fatalf("expected reason %q, got %q", domain.ReasonExpired, got.ErrorReason)
	}
	if got.LastResumedAt != nil {
		t.Fatal("expired session must not keep a live resume marker")
	}

	// The user can start fresh.
	if _, err := e.service.Start(ctx, 1, nil); err != nil {
		t.Fatalf("start after expiry: %v", err)
	}
}

func TestReaperLeavesFreshSessionsAlone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, err := e.service.Start(ctx, 1, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	reaper := newTestReaper(e, time.Hour)
	if err := reaper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	current, err := e.service.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current == nil || current.State != domain.StateInProgress {
		t.Fatalf("fresh session must survive the sweep, got %+v", current)
	}
}

// An expired session is credited only up to its last observed activity, not
// for the idle stretch the reaper is punishing.
func TestReaperExpiryExcludesIdleTime(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	session, err := e.service.Start(ctx, 1, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	e.clock.Advance(10 * time.Minute)
	if _, err := e.service.Pause(ctx, 1); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := e.service.Resume(ctx, 1); err != nil {
		t.Fatalf("resume: %v", err)
	}

	e.clock.Advance(5 * time.Hour)
	reaper := newTestReaper(e, time.Hour)
	if err := reaper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := e.sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StateError {
		t.Fatalf("expected error state, got %s", got.State)
	}
	// 10 minutes of work were banked at pause time; the 5 idle hours must
	// not be credited.
	if got.AccumulatedSeconds != 600 {
		t.Fatalf("expected 600s credited, got %d", got.AccumulatedSeconds)
	}
}

func TestReaperRecoversPendingLinkage(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	task := e.seedTask(t, 1, 10)

	if _, err := e.service.Start(ctx, 1, &task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.clock.Advance(time.Minute)

	e.tasks.setFail(true)
	if _, err := e.service.Complete(ctx, 1, service.CompleteParams{
		ProgressAfter: intPtr(60),
	}); !errors.Is(err, domain.ErrLinkageFailed) {
		t.Fatalf("expected ErrLinkageFailed, got %v", err)
	}

	e.tasks.setFail(false)
	reaper := newTestReaper(e, time.Hour)
	if err := reaper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	pending, err := e.sessions.ListPendingLinkage(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the sweep to drain pending linkages, got %d", len(pending))
	}

	got, err := e.db.Tasks().GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ProgressPercent != 60 {
		t.Fatalf("expected task progress 60, got %d", got.ProgressPercent)
	}
}
