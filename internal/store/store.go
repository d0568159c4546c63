package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a pooled SQLite connection configured for single-writer,
// multi-reader concurrency: WAL journaling, foreign keys on, a busy
// timeout so a blocked writer waits rather than erroring immediately, and
// (for the in-memory form) a connection pool pinned to one connection so
// every caller shares the same in-process database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite database at path and
// applies all pending schema migrations. path may be ":memory:" for an
// ephemeral store, typically used in tests.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	dsn := dsnFor(path, memory)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if memory {
		// A single pooled connection keeps every caller on the same
		// in-memory database instead of each getting its own. The DSN's
		// cache=shared also makes that database shared by every
		// ":memory:" Store open at once in this process.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func dsnFor(path string, memory bool) string {
	if memory {
		return "file::memory:?cache=shared&_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=NORMAL", path)
}

// DB returns the underlying *sql.DB for packages that need direct query
// access (queue, worker, monitor). Store itself only owns the schema and
// the transaction primitive.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the filesystem path (or ":memory:") the store was opened
// with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the current time as integer seconds since epoch. Every
// updated_at/ts column in the store uses this; the core never relies on
// sub-second ordering.
func Now() int64 {
	return time.Now().Unix()
}

// Immediate runs fn inside a write transaction that acquires SQLite's write
// lock at BEGIN (via the non-standard "BEGIN IMMEDIATE" statement), not on
// first write. This is the cross-process mutex the claim transaction and
// the enqueue transaction both rely on: database/sql's BeginTx has no way
// to ask for BEGIN IMMEDIATE, so Immediate checks out a single *sql.Conn
// from the pool and drives the transaction with raw statements instead of
// a *sql.Tx.
func (s *Store) Immediate(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	if err := fn(ctx, conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}
