package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// LinkageCoordinator applies a completed session's task update. The session
// write-ahead marker is already durable by the time Apply runs, and the task
// store's (taskID, sessionID) ledger makes the update idempotent, so any
// observer can retry a stuck linkage without re-running session-state logic.
type LinkageCoordinator struct {
	tasks domain.TaskRepository
}

// NewLinkageCoordinator creates a new LinkageCoordinator.
func NewLinkageCoordinator(tasks domain.TaskRepository) *LinkageCoordinator {
	return &LinkageCoordinator{tasks: tasks}
}

// Apply pushes the session's recorded progress onto its task. Returns
// ErrTaskNotFound when the task has been deleted (caller decides whether the
// session still completes) and a wrapped transient error otherwise.
func (c *LinkageCoordinator) Apply(ctx context.Context, session *domain.Session) error {
	if session.TaskID == nil {
		return nil
	}
	if !session.PendingLinkage {
		return fmt.Errorf("%w: session %s has no pending task update", domain.ErrInvalidInput, session.ID)
	}

	err := c.tasks.ApplySessionUpdate(ctx, *session.TaskID, session.ID,
		session.TaskProgressAfter, session.TaskCompleted)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return err
		}
		return fmt.Errorf("apply task update for session %s: %w", session.ID, err)
	}
	return nil
}
