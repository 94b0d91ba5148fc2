package domain

import (
	"context"
	"time"
)

// EventKind identifies a session lifecycle event.
type EventKind string

const (
	EventSessionStarted   EventKind = "session.started"
	EventSessionPaused    EventKind = "session.paused"
	EventSessionResumed   EventKind = "session.resumed"
	EventSessionCompleted EventKind = "session.completed"
	EventSessionExpired   EventKind = "session.expired"
)

// Event is an outbox row. Events are appended in the same transaction as the
// session write that caused them, then delivered at-least-once by the
// dispatcher; consumers must tolerate duplicates.
type Event struct {
	ID           int64
	Kind         EventKind
	UserID       int64
	SessionID    string
	Payload      []byte // JSON, shape depends on Kind
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

type EventRepository interface {
	ListUndispatched(ctx context.Context, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, ids []int64, at time.Time) error
}
