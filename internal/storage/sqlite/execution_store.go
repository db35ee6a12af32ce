package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/session"
)

// ExecutionStore implements execution metadata persistence backed by SQLite.
type ExecutionStore struct {
	db *DB
}

// NewExecutionStore creates a new SQLite-backed execution store.
func NewExecutionStore(db *DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Save persists an execution (insert or update).
func (s *ExecutionStore) Save(ctx context.Context, exec *session.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, user_id, test_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, updated_at=excluded.updated_at`,
		exec.ID, exec.UserID, exec.TestID, string(exec.Status),
		exec.CreatedAt, exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return nil
}

// Get retrieves an execution by ID.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*session.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, test_id, status, created_at, updated_at
		FROM executions WHERE id = ?`, id)

	var exec session.Execution
	var status string
	if err := row.Scan(&exec.ID, &exec.UserID, &exec.TestID, &status, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = session.Status(status)
	return &exec, nil
}

// Delete removes an execution.
func (s *ExecutionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// List returns all execution IDs, newest first.
func (s *ExecutionStore) List(ctx context.Context) ([]string, error) {
	return s.ids(ctx, "SELECT id FROM executions ORDER BY created_at DESC")
}

func (s *ExecutionStore) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
