package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/clock"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// sweepBatchSize bounds how many sessions one pass will touch.
const sweepBatchSize = 100

// Reaper periodically expires abandoned sessions and retries stuck task
// linkages. It is the only asynchronous actor, and it goes through the exact
// same locked SessionService entry points as client requests — there is no
// second code path for state transitions.
type Reaper struct {
	service     *SessionService
	sessions    domain.SessionRepository
	clock       clock.Clock
	idleTimeout time.Duration
	interval    time.Duration
}

// NewReaper creates a reaper. idleTimeout is how long a non-terminal session
// may sit untouched before it is expired; interval is how often to scan.
func NewReaper(service *SessionService, sessions domain.SessionRepository, clk clock.Clock, idleTimeout, interval time.Duration) *Reaper {
	return &Reaper{
		service:     service,
		sessions:    sessions,
		clock:       clk,
		idleTimeout: idleTimeout,
		interval:    interval,
	}
}

// Run sweeps on a ticker until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				slog.Error("reaper sweep", "error", err)
			}
		}
	}
}

// Sweep runs one pass: expire stale sessions, then retry pending linkages.
func (r *Reaper) Sweep(ctx context.Context) error {
	if err := r.expireStale(ctx); err != nil {
		return err
	}
	return r.recoverPendingLinkage(ctx)
}

func (r *Reaper) expireStale(ctx context.Context) error {
	cutoff := r.clock.Now().Add(-r.idleTimeout)

	stale, err := r.sessions.ListStale(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}

	for i := range stale {
		session, err := r.service.Expire(ctx, stale[i].ID, cutoff)
		if err != nil {
			// ErrConflict means the user touched the session between the
			// scan and the locked re-check; that session is alive, skip it.
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			slog.Error("expire session", "session_id", stale[i].ID, "error", err)
			continue
		}
		slog.Info("session expired",
			"session_id", session.ID,
			"user_id", session.UserID,
			"accumulated_seconds", session.AccumulatedSeconds)
	}
	return nil
}

// recoverPendingLinkage retries sessions whose completion was durably
// recorded but whose task update never resolved — a crash between the
// write-ahead and the clear, or a parked linkage failure.
func (r *Reaper) recoverPendingLinkage(ctx context.Context) error {
	pending, err := r.sessions.ListPendingLinkage(ctx, sweepBatchSize)
	if err != nil {
		return err
	}

	for i := range pending {
		session, err := r.service.RetryCompletion(ctx, pending[i].UserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Resolved by someone else since the scan.
				continue
			}
			slog.Warn("retry pending linkage", "session_id", pending[i].ID, "error", err)
			continue
		}
		slog.Info("pending linkage resolved",
			"session_id", session.ID, "user_id", session.UserID)
	}
	return nil
}
