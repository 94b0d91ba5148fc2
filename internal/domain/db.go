package domain

import "context"

// Database defines lifecycle operations for the backing store. The engine
// needs durable, transactional storage of session records and nothing more;
// each implementation owns its own migration files and strategy so the
// backend stays swappable.
type Database interface {
	Migrate(ctx context.Context) error
	Close() error
}
