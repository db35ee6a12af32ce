// Package postgres keeps session state backups in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS session_backups (
		user_id     TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		blob        BYTEA NOT NULL,
		document    JSONB,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, storage_key)
	)
`

// BackupStore implements the restoration backup store using PostgreSQL
type BackupStore struct {
	pool *pgxpool.Pool
}

// NewBackupStore creates a new PostgreSQL backup store
func NewBackupStore(pool *pgxpool.Pool) *BackupStore {
	return &BackupStore{pool: pool}
}

// Connect opens a pool and makes sure the backup table exists
func Connect(ctx context.Context, url string) (*BackupStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewBackupStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the backup table
func (s *BackupStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create session_backups: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *BackupStore) Close() {
	s.pool.Close()
}

// Save writes a backup. JSON blobs are also stored in the document column so
// that operators can query them.
func (s *BackupStore) Save(ctx context.Context, userID, storageKey string, blob []byte) error {
	query := `
		INSERT INTO session_backups (user_id, storage_key, blob, document, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, storage_key) DO UPDATE
		SET blob = EXCLUDED.blob, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, userID, storageKey, blob, document(blob)); err != nil {
		return fmt.Errorf("save backup %s: %w", storageKey, err)
	}
	return nil
}

// Restore reads a backup
func (s *BackupStore) Restore(ctx context.Context, userID, storageKey string) ([]byte, error) {
	query := `SELECT blob FROM session_backups WHERE user_id = $1 AND storage_key = $2`

	var blob []byte
	err := s.pool.QueryRow(ctx, query, userID, storageKey).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", storageKey, domain.ErrBackupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("restore backup %s: %w", storageKey, err)
	}
	return blob, nil
}

// Delete removes a backup. Deleting a missing backup is not an error.
func (s *BackupStore) Delete(ctx context.Context, userID, storageKey string) error {
	query := `DELETE FROM session_backups WHERE user_id = $1 AND storage_key = $2`
	if _, err := s.pool.Exec(ctx, query, userID, storageKey); err != nil {
		return fmt.Errorf("delete backup %s: %w", storageKey, err)
	}
	return nil
}

// Keys lists the backed up keys of a user
func (s *BackupStore) Keys(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT storage_key FROM session_backups WHERE user_id = $1 ORDER BY storage_key`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func document(blob []byte) pqtype.NullRawMessage {
	if len(blob) == 0 || !json.Valid(blob) {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: blob, Valid: true}
}
