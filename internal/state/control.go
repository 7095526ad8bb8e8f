package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RequestKind distinguishes control requests the CLI hands to the daemon.
type RequestKind string

const (
	// RequestTrigger asks the daemon to force-run a task outside its
	// schedule, subject to the usual run-handle and ceiling checks.
	RequestTrigger RequestKind = "trigger"
)

// ControlRequest is one pending operator request.
type ControlRequest struct {
	ID        int64
	TaskID    string
	Kind      RequestKind
	CreatedAt time.Time
}

// EnqueueRequest appends a control request for the daemon.
func (s *SQLiteStore) EnqueueRequest(ctx context.Context, req ControlRequest) error {
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO control_requests (task_id, kind, created_at)
		VALUES (?, ?, ?)
	`, req.TaskID, string(req.Kind), created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue control request: %w", err)
	}
	return nil
}

// TakeRequests returns pending control requests in arrival order and marks
// them handled, so a request fires at most once.
func (s *SQLiteStore) TakeRequests(ctx context.Context) ([]ControlRequest, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, task_id, kind, created_at
		FROM control_requests
		WHERE handled = 0
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query control requests: %w", err)
	}

	var reqs []ControlRequest
	var lastID int64
	for rows.Next() {
		var r ControlRequest
		var kind, created string
		if err := rows.Scan(&r.ID, &r.TaskID, &kind, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan control request: %w", err)
		}
		r.Kind = RequestKind(kind)
		r.CreatedAt = scanTime(created)
		reqs = append(reqs, r)
		lastID = r.ID
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating control requests: %w", err)
	}
	rows.Close()

	if len(reqs) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE control_requests SET handled = 1 WHERE handled = 0 AND id <= ?`, lastID); err != nil {
		return nil, fmt.Errorf("failed to mark control requests handled: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return reqs, nil
}
