package storage

import (
	"time"
)

// BaseRepository is embedded by the token and subscription log
// repositories. It carries the shared connection and the clock that stamps
// created_at/updated_at, stored in UTC so SQLite orders them correctly.
type BaseRepository struct {
	db  *DB
	now func() time.Time
}

// NewBaseRepository creates a base repository on db using the wall clock.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db, now: time.Now}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current time in UTC for row timestamps.
func (r *BaseRepository) Now() time.Time {
	return r.now().UTC()
}

// SetClock replaces the timestamp source.
func (r *BaseRepository) SetClock(now func() time.Time) {
	r.now = now
}
