package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// conflictRetries bounds the internal retry loop for optimistic-lock
// collisions with external writers (the CLI process).
const conflictRetries = 5

// Load returns the current record for the task, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (*StateRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, phase, round, attempt, stop_requested, last_cause, started_at, updated_at, version
		FROM state_records
		WHERE task_id = ?
	`, taskID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query state record: %w", err)
	}
	return rec, nil
}

// Mutate applies fn atomically under the task's key lock. Conflicts with
// external writers are retried with a short exponential backoff; in-process
// mutators never conflict because the key lock serializes them.
func (s *SQLiteStore) Mutate(ctx context.Context, taskID string, fn Mutation) (*StateRecord, error) {
	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	var rec *StateRecord

	op := func() error {
		var err error
		rec, err = s.mutateOnce(ctx, taskID, fn)
		if errors.Is(err, ErrConflict) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	pol := backoff.NewExponentialBackOff()
	pol.InitialInterval = 10 * time.Millisecond
	pol.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(pol, conflictRetries), ctx))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// mutateOnce performs one read-modify-write cycle with an optimistic
// version check.
func (s *SQLiteStore) mutateOnce(ctx context.Context, taskID string, fn Mutation) (*StateRecord, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT task_id, phase, round, attempt, stop_requested, last_cause, started_at, updated_at, version
		FROM state_records
		WHERE task_id = ?
	`, taskID)

	rec, err := scanRecord(row)
	created := false
	if errors.Is(err, sql.ErrNoRows) {
		// First run of this task: start from an idle record.
		created = true
		rec = &StateRecord{
			TaskID:    taskID,
			Phase:     PhaseIdle,
			StartedAt: now,
			UpdatedAt: now,
		}
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state record: %w", err)
	}

	prevVersion := rec.Version
	entry, err := fn(rec)
	if err != nil {
		return nil, err
	}
	if !rec.Phase.Valid() {
		return nil, fmt.Errorf("mutation produced invalid phase %q for task %s", rec.Phase, taskID)
	}

	rec.UpdatedAt = now
	rec.Version = prevVersion + 1

	if created {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO state_records (task_id, phase, round, attempt, stop_requested, last_cause, started_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO NOTHING
		`, rec.TaskID, string(rec.Phase), rec.Round, rec.Attempt, boolInt(rec.StopRequested), rec.LastCause,
			rec.StartedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano), rec.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to insert state record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another process created the record between read and write.
			return nil, ErrConflict
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE state_records
			SET phase = ?, round = ?, attempt = ?, stop_requested = ?, last_cause = ?, started_at = ?, updated_at = ?, version = ?
			WHERE task_id = ? AND version = ?
		`, string(rec.Phase), rec.Round, rec.Attempt, boolInt(rec.StopRequested), rec.LastCause,
			rec.StartedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano), rec.Version,
			rec.TaskID, prevVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to update state record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrConflict
		}
	}

	if entry != nil {
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO state_history (task_id, round, phase, timestamp, detail)
			VALUES (?, ?, ?, ?, ?)
		`, taskID, entry.Round, string(entry.Phase), ts.Format(time.RFC3339Nano), entry.Detail)
		if err != nil {
			return nil, fmt.Errorf("failed to append history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	out := *rec
	return &out, nil
}

// History returns transitions for the task, oldest first. limit <= 0
// returns the full history.
func (s *SQLiteStore) History(ctx context.Context, taskID string, limit int) ([]Transition, error) {
	query := `
		SELECT round, phase, timestamp, detail
		FROM state_history
		WHERE task_id = ?
		ORDER BY id
	`
	args := []any{taskID}
	if limit > 0 {
		// Last N entries, still returned oldest first.
		query = `
			SELECT round, phase, timestamp, detail FROM (
				SELECT id, round, phase, timestamp, detail
				FROM state_history
				WHERE task_id = ?
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []Transition
	for rows.Next() {
		var t Transition
		var phase, ts string
		if err := rows.Scan(&t.Round, &phase, &ts, &t.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		t.Phase = Phase(phase)
		t.Timestamp = scanTime(ts)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}

// List returns all state records ordered by task identifier.
func (s *SQLiteStore) List(ctx context.Context) ([]*StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, phase, round, attempt, stop_requested, last_cause, started_at, updated_at, version
		FROM state_records
		ORDER BY task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state records: %w", err)
	}
	defer rows.Close()

	var records []*StateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state records: %w", err)
	}
	return records, nil
}

// Delete removes the record and its history inside one transaction.
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_history WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_records WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete state record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*StateRecord, error) {
	rec := &StateRecord{}
	var phase, startedAt, updatedAt string
	var stop int
	if err := sc.Scan(&rec.TaskID, &phase, &rec.Round, &rec.Attempt, &stop, &rec.LastCause, &startedAt, &updatedAt, &rec.Version); err != nil {
		return nil, err
	}
	rec.Phase = Phase(phase)
	rec.StopRequested = stop != 0
	rec.StartedAt = scanTime(startedAt)
	rec.UpdatedAt = scanTime(updatedAt)
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
