// Package sqlite implements the durable session, task, and event stores on
// top of modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/repository/sqlite/migrations"
)

// DB bundles the open connection with its repositories.
type DB struct {
	SqlDB *sql.DB
}

// New opens a SQLite database at the given path and configures it for use.
// It enables WAL mode and foreign keys, and restricts the pool to a single
// connection so writes serialize cleanly.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked while the per-user locks serialize writers.
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{SqlDB: db}, nil
}

// Migrate applies any unapplied schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, d.SqlDB)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.SqlDB.Close()
}

// Sessions returns the session repository.
func (d *DB) Sessions() domain.SessionRepository {
	return &SessionRepository{db: d.SqlDB}
}

// Tasks returns the task repository.
func (d *DB) Tasks() domain.TaskRepository {
	return &TaskRepository{db: d.SqlDB}
}

// Events returns the event outbox repository.
func (d *DB) Events() domain.EventRepository {
	return &EventRepository{db: d.SqlDB}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
