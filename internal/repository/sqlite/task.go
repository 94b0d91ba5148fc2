package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// TaskRepository implements domain.TaskRepository using SQLite.
type TaskRepository struct {
	db *sql.DB
}

// NewTaskRepository creates a new SQLite-backed TaskRepository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db.SqlDB}
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, progress_percent, completed, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		task.UserID, task.Title, task.ProgressPercent, task.Completed, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get task id: %w", err)
	}

	task.ID = id
	task.Version = 1
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	t := &domain.Task{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, progress_percent, completed, version, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.ProgressPercent, &t.Completed,
		&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ApplySessionUpdate records a session's task update exactly once. The ledger
// insert and the task update share one transaction; a replay for the same
// (task, session) pair commits nothing and returns nil.
func (r *TaskRepository) ApplySessionUpdate(ctx context.Context, taskID int64, sessionID string, progress *int, completed bool) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_session_updates (task_id, session_id, applied_at) VALUES (?, ?, ?)`,
		taskID, sessionID, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Already applied by an earlier attempt.
			return nil
		}
		return fmt.Errorf("record task update: %w", err)
	}

	var set string
	args := []any{}
	if progress != nil {
		set = "progress_percent = ?, "
		args = append(args, *progress)
	}
	args = append(args, completed, now, taskID)

	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET `+set+`completed = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTaskNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task update: %w", err)
	}
	return nil
}
