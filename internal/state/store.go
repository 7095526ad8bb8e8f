package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable home of per-task state records, their append-only
// history, and the control-request queue the CLI uses to reach the daemon.
type Store interface {
	// Load returns the current record for the task, or ErrNotFound.
	Load(ctx context.Context, taskID string) (*StateRecord, error)

	// Mutate applies fn atomically: reads the current record (creating an
	// initial idle one if none exists), lets fn compute the new record plus
	// an optional history entry, and writes both back as a single
	// transaction. Mutation is serialized per task identifier; version
	// conflicts against external writers are retried internally.
	Mutate(ctx context.Context, taskID string, fn Mutation) (*StateRecord, error)

	// History returns the most recent transitions for the task, oldest
	// first. limit <= 0 returns everything.
	History(ctx context.Context, taskID string, limit int) ([]Transition, error)

	// List returns all records ordered by task identifier.
	List(ctx context.Context) ([]*StateRecord, error)

	// Delete removes the record and its history. Deleting a missing record
	// is a no-op.
	Delete(ctx context.Context, taskID string) error

	// EnqueueRequest appends a control request (e.g. a manual trigger) for
	// the daemon to pick up on its next scheduler tick.
	EnqueueRequest(ctx context.Context, req ControlRequest) error

	// TakeRequests returns all pending control requests and marks them
	// handled in the same transaction.
	TakeRequests(ctx context.Context) ([]ControlRequest, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyLockManager
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout
// so the CLI can share the file with a running daemon.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newStore(ctx, db)
}

var memStoreSeq atomic.Int64

// NewMemoryStore creates an in-memory store for testing. Each store gets
// its own named shared-cache database so the pool's connections see the
// same data while separate stores stay isolated.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	name := fmt.Sprintf("taskmill-mem-%d", memStoreSeq.Add(1))
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return newStore(ctx, db)
}

func newStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	// Single write connection keeps SQLite happy under concurrent mutators;
	// serialization is enforced by the keyed locks anyway.
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db, locks: newKeyLockManager()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanTime tolerates both DATETIME defaults and RFC3339 strings written by
// older versions of the schema.
func scanTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
