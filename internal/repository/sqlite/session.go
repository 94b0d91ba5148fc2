package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// SessionRepository implements domain.SessionRepository using SQLite.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed SessionRepository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db.SqlDB}
}

const sessionColumns = `id, user_id, task_id, state, started_at, accumulated_seconds,
	 last_resumed_at, quality_rating, completion_notes, task_progress_before,
	 task_progress_after, task_completed, error_reason, pending_linkage,
	 version, created_at, updated_at`

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session, events ...domain.Event) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.TaskID, session.State,
		session.StartedAt, session.AccumulatedSeconds, session.LastResumedAt,
		session.QualityRating, session.CompletionNotes,
		session.TaskProgressBefore, session.TaskProgressAfter, session.TaskCompleted,
		session.ErrorReason, session.PendingLinkage,
		1, now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: user already has an active session", domain.ErrConflict)
		}
		return fmt.Errorf("insert session: %w", err)
	}

	if err := appendEvents(ctx, tx, now, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session create: %w", err)
	}

	session.Version = 1
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *SessionRepository) GetCurrent(ctx context.Context, userID int64) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND state IN (`+activeStatePlaceholders+`)`,
		append([]any{userID}, activeStateArgs...)...)
	return scanSession(row)
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.Session, events ...domain.Event) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateSessionTx(ctx, tx, session, now); err != nil {
		return err
	}

	if err := appendEvents(ctx, tx, now, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session update: %w", err)
	}

	session.Version++
	session.UpdatedAt = now
	return nil
}

func (r *SessionRepository) Replace(ctx context.Context, old, next *domain.Session, events ...domain.Event) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Finish the old session first so the partial unique index admits the
	// replacement within the same transaction.
	if err := updateSessionTx(ctx, tx, old, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID, next.UserID, next.TaskID, next.State,
		next.StartedAt, next.AccumulatedSeconds, next.LastResumedAt,
		next.QualityRating, next.CompletionNotes,
		next.TaskProgressBefore, next.TaskProgressAfter, next.TaskCompleted,
		next.ErrorReason, next.PendingLinkage,
		1, now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: user already has an active session", domain.ErrConflict)
		}
		return fmt.Errorf("insert replacement session: %w", err)
	}

	if err := appendEvents(ctx, tx, now, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session replace: %w", err)
	}

	old.Version++
	old.UpdatedAt = now
	next.Version = 1
	next.CreatedAt = now
	next.UpdatedAt = now
	return nil
}

func (r *SessionRepository) GetPendingLinkage(ctx context.Context, userID int64) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND pending_linkage = 1
		 ORDER BY updated_at DESC LIMIT 1`, userID)
	return scanSession(row)
}

func (r *SessionRepository) ListCompletedByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND state = ?
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		userID, domain.StateCompleted, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE state IN (`+activeStatePlaceholders+`) AND updated_at < ?
		 ORDER BY updated_at ASC LIMIT ?`,
		append(append([]any{}, activeStateArgs...), cutoff, limit)...)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *SessionRepository) ListPendingLinkage(ctx context.Context, limit int) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE pending_linkage = 1
		 ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending linkage sessions: %w", err)
	}
	return collectSessions(rows)
}

// updateSessionTx writes a session back guarded by its version. Zero rows
// affected means the record changed underneath the caller (or vanished),
// which surfaces as ErrConflict.
func updateSessionTx(ctx context.Context, tx *sql.Tx, session *domain.Session, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE sessions SET
		 task_id = ?, state = ?, accumulated_seconds = ?, last_resumed_at = ?,
		 quality_rating = ?, completion_notes = ?, task_progress_before = ?,
		 task_progress_after = ?, task_completed = ?, error_reason = ?,
		 pending_linkage = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		session.TaskID, session.State, session.AccumulatedSeconds, session.LastResumedAt,
		session.QualityRating, session.CompletionNotes, session.TaskProgressBefore,
		session.TaskProgressAfter, session.TaskCompleted, session.ErrorReason,
		session.PendingLinkage, now,
		session.ID, session.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: session version is stale", domain.ErrConflict)
	}
	return nil
}

func appendEvents(ctx context.Context, tx *sql.Tx, now time.Time, events []domain.Event) error {
	for i := range events {
		payload := events[i].Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_events (kind, user_id, session_id, payload, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			events[i].Kind, events[i].UserID, events[i].SessionID, string(payload), now)
		if err != nil {
			return fmt.Errorf("append event %s: %w", events[i].Kind, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionInto(s *domain.Session, row rowScanner) error {
	return row.Scan(&s.ID, &s.UserID, &s.TaskID, &s.State,
		&s.StartedAt, &s.AccumulatedSeconds, &s.LastResumedAt,
		&s.QualityRating, &s.CompletionNotes,
		&s.TaskProgressBefore, &s.TaskProgressAfter, &s.TaskCompleted,
		&s.ErrorReason, &s.PendingLinkage,
		&s.Version, &s.CreatedAt, &s.UpdatedAt)
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	s := &domain.Session{}
	if err := scanSessionInto(s, row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := scanSessionInto(&s, rows); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

var (
	activeStatePlaceholders string
	activeStateArgs         []any
)

func init() {
	states := domain.ActiveStates()
	placeholders := make([]string, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		activeStateArgs = append(activeStateArgs, st)
	}
	activeStatePlaceholders = strings.Join(placeholders, ", ")
}
