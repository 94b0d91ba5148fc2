package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/clock"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// SessionService owns the focus-session state machine. Every mutating
// operation runs under a per-user exclusive lock wrapping read, validate,
// compute, and write; that single synchronization point is what keeps the
// one-active-session-per-user invariant true when the same user fires
// concurrent requests from multiple tabs or devices.
type SessionService struct {
	sessions domain.SessionRepository
	tasks    domain.TaskRepository
	linkage  *LinkageCoordinator
	clock    clock.Clock
	locks    *userLocks
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions domain.SessionRepository, tasks domain.TaskRepository, linkage *LinkageCoordinator, clk clock.Clock) *SessionService {
	return &SessionService{
		sessions: sessions,
		tasks:    tasks,
		linkage:  linkage,
		clock:    clk,
		locks:    newUserLocks(),
	}
}

// CompleteParams carries the caller-supplied completion details.
type CompleteParams struct {
	QualityRating *int
	Notes         string
	ProgressAfter *int
	TaskCompleted bool
}

// Start creates a new in-progress session for the user. Fails with
// ErrConflict if an active session already exists; the client is expected to
// resume it or call Switch instead.
func (s *SessionService) Start(ctx context.Context, userID int64, taskID *int64) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	return s.startLocked(ctx, userID, taskID)
}

// startLocked is the body of Start; Switch reuses it under its own lock hold.
func (s *SessionService) startLocked(ctx context.Context, userID int64, taskID *int64) (*domain.Session, error) {
	if _, err := s.sessions.GetCurrent(ctx, userID); err == nil {
		return nil, fmt.Errorf("%w: an active session already exists", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check current session: %w", err)
	}

	session, err := s.buildSession(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session, startedEvent(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// buildSession assembles a fresh in-progress session, snapshotting the linked
// task's progress when there is one.
func (s *SessionService) buildSession(ctx context.Context, userID int64, taskID *int64) (*domain.Session, error) {
	now := s.clock.Now()

	session := &domain.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		TaskID:        taskID,
		State:         domain.StateInProgress,
		StartedAt:     now,
		LastResumedAt: &now,
	}

	if taskID != nil {
		task, err := s.tasks.GetByID(ctx, *taskID)
		if err != nil {
			if errors.Is(err, domain.ErrTaskNotFound) {
				return nil, fmt.Errorf("%w: task %d does not exist", domain.ErrInvalidInput, *taskID)
			}
			return nil, fmt.Errorf("get task: %w", err)
		}
		if task.UserID != userID {
			return nil, domain.ErrUnauthorized
		}
		progress := task.ProgressPercent
		session.TaskProgressBefore = &progress
	}

	return session, nil
}

// Pause freezes the session's accumulated time. Pausing an already-paused
// session returns it unchanged, so a retried request after a client timeout
// is harmless.
func (s *SessionService) Pause(ctx context.Context, userID int64) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	session, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	if session.State == domain.StatePaused {
		return session, nil
	}
	if session.State != domain.StateInProgress {
		return nil, fmt.Errorf("%w: session is %s, not in progress", domain.ErrInvalidInput, session.State)
	}

	now := s.clock.Now()
	session.AccumulatedSeconds += s.activeDelta(session, now)
	session.LastResumedAt = nil
	session.State = domain.StatePaused

	if err := s.sessions.Update(ctx, session, pausedEvent(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// Resume restarts the accumulation clock. Idempotent on an in-progress
// session.
func (s *SessionService) Resume(ctx context.Context, userID int64) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	session, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	if session.State == domain.StateInProgress {
		return session, nil
	}
	if session.State != domain.StatePaused {
		return nil, fmt.Errorf("%w: session is %s, not paused", domain.ErrInvalidInput, session.State)
	}

	now := s.clock.Now()
	session.LastResumedAt = &now
	session.State = domain.StateInProgress

	if err := s.sessions.Update(ctx, session, resumedEvent(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// End finalizes the session without touching its task. The quick-end path.
func (s *SessionService) End(ctx context.Context, userID int64) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	session, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.finalizeDuration(session); err != nil {
		return nil, err
	}
	session.State = domain.StateCompleted

	if err := s.sessions.Update(ctx, session, completedEvent(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// Complete finalizes the session and applies the task update as one logical
// transaction. If the task update cannot be committed, the session lands in
// the error state with the write-ahead marker still set, never in a silently
// half-applied completed state.
func (s *SessionService) Complete(ctx context.Context, userID int64, params CompleteParams) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	session, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	// All validation happens before any write.
	if err := validateCompleteParams(params); err != nil {
		return nil, err
	}

	if err := s.finalizeDuration(session); err != nil {
		return nil, err
	}
	session.QualityRating = params.QualityRating
	session.CompletionNotes = params.Notes
	session.TaskProgressAfter = params.ProgressAfter
	session.TaskCompleted = params.TaskCompleted

	if session.TaskID == nil {
		session.State = domain.StateCompleted
		if err := s.sessions.Update(ctx, session, completedEvent(session)); err != nil {
			return nil, err
		}
		return session, nil
	}

	// Compensating write-ahead: durably record the pending task update before
	// touching the task, so a crash between the two writes is recoverable.
	session.State = domain.StateCompleting
	session.PendingLinkage = true
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	return s.settleLinkage(ctx, session)
}

// settleLinkage applies the pending task update for a session already carrying
// the write-ahead marker, then commits the terminal state.
func (s *SessionService) settleLinkage(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	if err := s.linkage.Apply(ctx, session); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			// Task was deleted out from under the session. The session still
			// completes; the skipped update is visible in the event payload.
			slog.Warn("task vanished during completion, skipping update",
				"session_id", session.ID, "task_id", *session.TaskID)
			session.State = domain.StateCompleted
			session.PendingLinkage = false
			session.ErrorReason = ""
			if err := s.sessions.Update(ctx, session, completedEvent(session)); err != nil {
				return nil, err
			}
			return session, nil
		}

		session.State = domain.StateError
		session.ErrorReason = domain.ReasonLinkageFailed
		if uerr := s.sessions.Update(ctx, session); uerr != nil {
			return nil, fmt.Errorf("park session after linkage failure: %w", uerr)
		}
		return session, fmt.Errorf("%w: %v", domain.ErrLinkageFailed, err)
	}

	session.State = domain.StateCompleted
	session.PendingLinkage = false
	session.ErrorReason = ""
	if err := s.sessions.Update(ctx, session, completedEvent(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// RetryCompletion re-runs the task update for the user's session stuck with
// an unresolved linkage. Idempotent: the update ledger swallows replays.
func (s *SessionService) RetryCompletion(ctx context.Context, userID int64) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	session, err := s.sessions.GetPendingLinkage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.settleLinkage(ctx, session)
}

// Switch ends the current session and starts a new one inside a single lock
// acquisition and a single store transaction, so no concurrent reader ever
// observes the user without a session.
func (s *SessionService) Switch(ctx context.Context, userID int64, newTaskID *int64) (*domain.Session, error) {
	release := s.locks.acquire(userID)
	defer release()

	old, err := s.sessions.GetCurrent(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Nothing to switch away from; degrade to a plain start.
			return s.startLocked(ctx, userID, newTaskID)
		}
		return nil, fmt.Errorf("get current session: %w", err)
	}

	if err := s.finalizeDuration(old); err != nil {
		return nil, err
	}
	old.State = domain.StateCompleted

	next, err := s.buildSession(ctx, userID, newTaskID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Replace(ctx, old, next, completedEvent(old), startedEvent(next)); err != nil {
		return nil, err
	}
	return next, nil
}

// Expire transitions a stale session into the error state with reason
// expired. Called by the reaper through the same locked entry point as client
// requests. The cutoff guard is re-checked under the lock so a session the
// user just touched is left alone.
func (s *SessionService) Expire(ctx context.Context, sessionID string, cutoff time.Time) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(session.UserID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return session, nil
	}
	if !session.UpdatedAt.Before(cutoff) {
		return nil, fmt.Errorf("%w: session saw activity after the cutoff", domain.ErrConflict)
	}

	// Credit active time only up to the last observed activity; the stretch
	// between then and now is exactly the idleness being punished.
	if session.Running() {
		session.AccumulatedSeconds += clampSeconds(session.UpdatedAt.Sub(*session.LastResumedAt))
		session.LastResumedAt = nil
	}
	session.State = domain.StateError
	session.ErrorReason = domain.ReasonExpired

	if err := s.sessions.Update(ctx, session, expiredEvent(session)); err != nil {
		return nil, err
	}
	return session, nil
}

// Current returns the user's active session, or nil when there is none —
// a normal state, not an error.
func (s *SessionService) Current(ctx context.Context, userID int64) (*domain.Session, error) {
	session, err := s.sessions.GetCurrent(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// History returns the user's completed sessions, newest first.
func (s *SessionService) History(ctx context.Context, userID int64, limit, offset int) ([]domain.Session, error) {
	return s.sessions.ListCompletedByUser(ctx, userID, limit, offset)
}

// current loads the user's active session for a mutating operation, mapping
// absence to ErrNotFound with a caller-facing message.
func (s *SessionService) current(ctx context.Context, userID int64) (*domain.Session, error) {
	session, err := s.sessions.GetCurrent(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active session", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get current session: %w", err)
	}
	return session, nil
}

// finalizeDuration folds any live interval into the accumulated total and
// stops the clock. Valid from the in-progress and paused states.
func (s *SessionService) finalizeDuration(session *domain.Session) error {
	switch session.State {
	case domain.StateInProgress:
		now := s.clock.Now()
		session.AccumulatedSeconds += s.activeDelta(session, now)
		session.LastResumedAt = nil
	case domain.StatePaused:
		// Duration already frozen at pause time.
	default:
		return fmt.Errorf("%w: session is %s and cannot be finished", domain.ErrInvalidInput, session.State)
	}
	return nil
}

// activeDelta returns the seconds elapsed since the session last resumed,
// clamped at zero when the clock has jumped backward so accumulated time
// never decreases.
func (s *SessionService) activeDelta(session *domain.Session, now time.Time) int64 {
	if session.LastResumedAt == nil {
		return 0
	}
	delta := now.Sub(*session.LastResumedAt)
	if delta < 0 {
		slog.Warn("clock moved backward, clamping session delta to zero",
			"session_id", session.ID,
			"last_resumed_at", *session.LastResumedAt,
			"now", now)
		return 0
	}
	return int64(delta / time.Second)
}

func clampSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func validateCompleteParams(params CompleteParams) error {
	if params.QualityRating != nil && (*params.QualityRating < 1 || *params.QualityRating > 5) {
		return fmt.Errorf("%w: quality rating must be between 1 and 5", domain.ErrInvalidInput)
	}
	if params.ProgressAfter != nil && (*params.ProgressAfter < 0 || *params.ProgressAfter > 100) {
		return fmt.Errorf("%w: task progress must be between 0 and 100", domain.ErrInvalidInput)
	}
	return nil
}

func startedEvent(session *domain.Session) domain.Event {
	return newEvent(domain.EventSessionStarted, session, map[string]any{
		"taskId": session.TaskID,
		"at":     session.StartedAt.Format(time.RFC3339),
	})
}

func pausedEvent(session *domain.Session) domain.Event {
	return newEvent(domain.EventSessionPaused, session, map[string]any{
		"accumulatedDurationSeconds": session.AccumulatedSeconds,
	})
}

func resumedEvent(session *domain.Session) domain.Event {
	return newEvent(domain.EventSessionResumed, session, nil)
}

func completedEvent(session *domain.Session) domain.Event {
	extra := map[string]any{
		"totalDurationSeconds": session.AccumulatedSeconds,
		"taskId":               session.TaskID,
		"taskCompleted":        session.TaskCompleted,
	}
	if session.QualityRating != nil {
		extra["qualityRating"] = *session.QualityRating
	}
	return newEvent(domain.EventSessionCompleted, session, extra)
}

func expiredEvent(session *domain.Session) domain.Event {
	return newEvent(domain.EventSessionExpired, session, map[string]any{
		"reason": session.ErrorReason,
	})
}

func newEvent(kind domain.EventKind, session *domain.Session, extra map[string]any) domain.Event {
	payload := map[string]any{
		"userId":    session.UserID,
		"sessionId": session.ID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// The payload is built from plain values; this cannot fail in practice.
		data = []byte("{}")
	}
	return domain.Event{
		Kind:      kind,
		UserID:    session.UserID,
		SessionID: session.ID,
		Payload:   data,
	}
}
