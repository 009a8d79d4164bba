package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrClosed is returned by every operation on a closed store
var ErrClosed = errors.New("state store is closed")

// SQLiteStore implements Store using SQLite. Several processes may share the
// same file: WAL mode plus a busy timeout lets SQLite serialize their writers.
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLiteStore opens (creating if needed) the state database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(60000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS replicated_keys (
		key TEXT PRIMARY KEY,
		added_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claims (
		key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS failures (
		key TEXT PRIMARY KEY,
		attempts INTEGER NOT NULL,
		last_error TEXT,
		failed_at DATETIME NOT NULL
	);
	`

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(query)
		return err
	})
}

func (s *SQLiteStore) Contains(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	var found bool
	err := s.retryOnBusy(func() error {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM replicated_keys WHERE key = ?`, key).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *SQLiteStore) Add(ctx context.Context, key string) error {
	return s.write(ctx, `
	INSERT INTO replicated_keys (key, added_at) VALUES (?, ?)
	ON CONFLICT(key) DO NOTHING
	`, key, s.now())
}

func (s *SQLiteStore) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	now := s.now()
	var claimed bool

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.retryOnBusy(func() error {
		// The conditional upsert is atomic: the lease is taken only when it is
		// free, expired, or already ours.
		res, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (key, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE claims.owner = excluded.owner OR claims.expires_at <= ?
		`, key, owner, now.Add(ttl).UnixNano(), now.UnixNano())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

func (s *SQLiteStore) Release(ctx context.Context, key, owner string) error {
	return s.write(ctx, `DELETE FROM claims WHERE key = ? AND owner = ?`, key, owner)
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, key string, attempts int, cause error) error {
	var lastError string
	if cause != nil {
		lastError = cause.Error()
	}
	return s.write(ctx, `
	INSERT INTO failures (key, attempts, last_error, failed_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		failed_at = excluded.failed_at
	`, key, attempts, lastError, s.now())
}

// Failures returns dead-letter records, oldest first
func (s *SQLiteStore) Failures(ctx context.Context) ([]Failure, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT key, attempts, last_error, failed_at
	FROM failures
	ORDER BY failed_at ASC, key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Failure
	for rows.Next() {
		var record Failure
		var lastError sql.NullString
		if err := rows.Scan(&record.Key, &record.Attempts, &lastError, &record.FailedAt); err != nil {
			return nil, err
		}
		if lastError.Valid {
			record.LastError = lastError.String
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// write runs one statement under the in-process write lock
func (s *SQLiteStore) write(ctx context.Context, query string, args ...any) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// retryOnBusy retries the operation while another connection holds the write lock
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isBusyError(err) {
			return err
		}
		delay := baseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(attempt*10) * time.Millisecond
		time.Sleep(delay + jitter)
	}
	return err
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
