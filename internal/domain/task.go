package domain

import (
	"context"
	"time"
)

// Task is the unit of work a session may be linked to. The task store is an
// external collaborator from the session engine's point of view; this local
// model carries only what session completion needs to read and write.
type Task struct {
	ID              int64
	UserID          int64
	Title           string
	ProgressPercent int // 0-100
	Completed       bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, id int64) (*Task, error)
	// ApplySessionUpdate sets the task's progress (and completion flag) on
	// behalf of a finished session. The write is idempotent by
	// (taskID, sessionID): replays of the same session's update are no-ops,
	// so a crashed completion can always be retried safely.
	ApplySessionUpdate(ctx context.Context, taskID int64, sessionID string, progress *int, completed bool) error
}
