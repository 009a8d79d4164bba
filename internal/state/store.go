package state

import (
	"context"
	"time"
)

// Failure is a dead-letter record for a key that exhausted its retries
type Failure struct {
	Key       string    `json:"key"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// Store is the set of keys confirmed present on the target, plus the
// per-key claims and dead-letter records that surround it.
type Store interface {
	// Contains reports whether key was recorded as transferred
	Contains(ctx context.Context, key string) (bool, error)
	// Add records key as transferred; adding an existing key is a no-op
	Add(ctx context.Context, key string) error

	// Claim takes a lease on key for owner until ttl elapses. It returns
	// false when another owner holds an unexpired lease.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops owner's lease on key, if any
	Release(ctx context.Context, key, owner string) error

	RecordFailure(ctx context.Context, key string, attempts int, cause error) error
	Failures(ctx context.Context) ([]Failure, error)

	Close() error
}

// Open returns a durable SQLite store at path when enabled, otherwise a
// process-local in-memory store.
func Open(enabled bool, path string) (Store, error) {
	if !enabled {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}
