package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// EventRepository implements domain.EventRepository using SQLite.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new SQLite-backed EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db.SqlDB}
}

func (r *EventRepository) ListUndispatched(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, user_id, session_id, payload, created_at, dispatched_at
		 FROM session_events
		 WHERE dispatched_at IS NULL
		 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &e.SessionID,
			&payload, &e.CreatedAt, &e.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventRepository) MarkDispatched(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_events SET dispatched_at = ? WHERE id = ?`, at, id); err != nil {
			return fmt.Errorf("mark event %d dispatched: %w", id, err)
		}
	}

	return tx.Commit()
}
