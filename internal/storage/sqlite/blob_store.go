package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

// blobTable is a key-value table of blobs addressed by user and storage key.
type blobTable struct {
	db    *DB
	table string
}

func (t blobTable) put(ctx context.Context, userID, key string, blob []byte) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO `+t.table+` (user_id, storage_key, blob, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(user_id, storage_key) DO UPDATE SET
			blob=excluded.blob, updated_at=excluded.updated_at`,
		userID, key, blob,
	)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", t.table, key, err)
	}
	return nil
}

// get returns sql.ErrNoRows wrapped when the key is absent.
func (t blobTable) get(ctx context.Context, userID, key string) ([]byte, error) {
	var blob []byte
	err := t.db.QueryRowContext(ctx,
		`SELECT blob FROM `+t.table+` WHERE user_id = ? AND storage_key = ?`,
		userID, key,
	).Scan(&blob)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", t.table, key, err)
	}
	return blob, nil
}

func (t blobTable) delete(ctx context.Context, userID, key string) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM `+t.table+` WHERE user_id = ? AND storage_key = ?`,
		userID, key)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", t.table, key, err)
	}
	return nil
}

func (t blobTable) keys(ctx context.Context, userID string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT storage_key FROM `+t.table+` WHERE user_id = ? ORDER BY storage_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan %s key: %w", t.table, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// StateStore is the live session state store backed by SQLite.
type StateStore struct {
	t blobTable
}

// NewStateStore creates a new SQLite-backed state store.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{t: blobTable{db: db, table: "state_blobs"}}
}

// Put writes a state blob.
func (s *StateStore) Put(ctx context.Context, userID, storageKey string, blob []byte) error {
	return s.t.put(ctx, userID, storageKey, blob)
}

// Get reads a state blob. A missing key yields domain.ErrNotFound.
func (s *StateStore) Get(ctx context.Context, userID, storageKey string) ([]byte, error) {
	blob, err := s.t.get(ctx, userID, storageKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state %s: %w", storageKey, domain.ErrNotFound)
	}
	return blob, err
}

// Keys lists the state keys of a user.
func (s *StateStore) Keys(ctx context.Context, userID string) ([]string, error) {
	return s.t.keys(ctx, userID)
}

// BackupStore keeps backups of session state blobs in SQLite.
type BackupStore struct {
	t blobTable
}

// NewBackupStore creates a new SQLite-backed backup store.
func NewBackupStore(db *DB) *BackupStore {
	return &BackupStore{t: blobTable{db: db, table: "backups"}}
}

// Save writes a backup.
func (b *BackupStore) Save(ctx context.Context, userID, storageKey string, blob []byte) error {
	return b.t.put(ctx, userID, storageKey, blob)
}

// Restore reads a backup. A missing backup yields domain.ErrBackupNotFound.
func (b *BackupStore) Restore(ctx context.Context, userID, storageKey string) ([]byte, error) {
	blob, err := b.t.get(ctx, userID, storageKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", storageKey, domain.ErrBackupNotFound)
	}
	return blob, err
}

// Delete removes a backup. Deleting a missing backup is not an error.
func (b *BackupStore) Delete(ctx context.Context, userID, storageKey string) error {
	return b.t.delete(ctx, userID, storageKey)
}

// Keys lists the backed up keys of a user.
func (b *BackupStore) Keys(ctx context.Context, userID string) ([]string, error) {
	return b.t.keys(ctx, userID)
}
