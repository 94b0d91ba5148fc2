package domain

import (
	"context"
	"time"
)

// Session tracks a single stretch of focused work for a user, optionally
// linked to a task. At most one session per user may be in a non-terminal
// state at any instant; the store enforces this with a partial unique index
// and the service layer enforces it with a per-user lock.
type Session struct {
	ID     string
	UserID int64
	TaskID *int64 // nil for free-form focus time

	State SessionState

	StartedAt          time.Time
	AccumulatedSeconds int64      // active time, frozen while paused or terminal
	LastResumedAt      *time.Time // non-nil iff State == StateInProgress

	QualityRating      *int // 1-5, set only during completion
	CompletionNotes    string
	TaskProgressBefore *int // 0-100 snapshot at start
	TaskProgressAfter  *int // 0-100 snapshot supplied at completion
	TaskCompleted      bool // caller reported the task finished during this session

	ErrorReason string // populated when State == StateError

	// PendingLinkage marks the compensating write-ahead: the session's
	// completion has been durably recorded but the task update has not yet
	// been applied. A recovery sweep retries any session left in this state.
	PendingLinkage bool

	Version   int64 // optimistic-concurrency counter, bumped on every write
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateStarting   SessionState = "starting"
	StateInProgress SessionState = "in_progress"
	StatePaused     SessionState = "paused"
	StateCompleting SessionState = "completing"
	StateCompleted  SessionState = "completed"
	StateError      SessionState = "error"
)

// Error reasons recorded on sessions that end in StateError.
const (
	ReasonExpired       = "expired"
	ReasonLinkageFailed = "linkage_failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// ActiveStates lists every non-terminal state.
func ActiveStates() []SessionState {
	return []SessionState{StateStarting, StateInProgress, StatePaused, StateCompleting}
}

// Running reports whether the session is accruing time right now.
func (s *Session) Running() bool {
	return s.State == StateInProgress
}

type SessionRepository interface {
	// Create inserts a new session, appending any events in the same
	// transaction. Returns ErrConflict if the user already has an active
	// session.
	Create(ctx context.Context, session *Session, events ...Event) error
	GetByID(ctx context.Context, id string) (*Session, error)
	// GetCurrent returns the user's single non-terminal session, or
	// ErrNotFound when none exists.
	GetCurrent(ctx context.Context, userID int64) (*Session, error)
	// Update writes the session back, guarded by its Version, appending any
	// events in the same transaction. A stale Version yields ErrConflict.
	Update(ctx context.Context, session *Session, events ...Event) error
	// Replace finishes the old session and inserts the next one in a single
	// transaction, so no reader ever observes the user without a session
	// mid-switch.
	Replace(ctx context.Context, old, next *Session, events ...Event) error
	// GetPendingLinkage returns the user's session whose completion
	// write-ahead marker is still set, or ErrNotFound.
	GetPendingLinkage(ctx context.Context, userID int64) (*Session, error)
	ListCompletedByUser(ctx context.Context, userID int64, limit, offset int) ([]Session, error)
	// ListStale returns non-terminal sessions whose last update predates the
	// cutoff, for the expiry reaper.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)
	// ListPendingLinkage returns sessions whose completion write-ahead marker
	// was never cleared, for the recovery sweep.
	ListPendingLinkage(ctx context.Context, limit int) ([]Session, error)
}
