package migrations_test

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/repository/sqlite/migrations"
)

func TestRunMigrations(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}

	ctx := context.Background()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first migration run: %v", err)
	}

	// Verify the sessions table exists by inserting a row.
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, state, started_at, created_at, updated_at)
		 VALUES ('s1', 1, 'in_progress', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	if err != nil {
		t.Fatalf("insert into sessions: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least one migration recorded in schema_migrations")
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("second run (idempotent): %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migration record, got %d", count)
	}
}

// The partial unique index must reject a second active session for the same
// user while allowing any number of terminal ones.
func TestActiveSessionIndex(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	insert := func(id, state string) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, state, started_at, created_at, updated_at)
			 VALUES (?, 1, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			id, state)
		return err
	}

	if err := insert("done-1", "completed"); err != nil {
		t.Fatalf("insert completed: %v", err)
	}
	if err := insert("done-2", "error"); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if err := insert("live-1", "in_progress"); err != nil {
		t.Fatalf("insert in_progress: %v", err)
	}
	if err := insert("live-2", "paused"); err == nil {
		t.Fatal("expected unique constraint violation for second active session")
	}
}
