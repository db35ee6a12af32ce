package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

const (
	backupCollection = "backups"
	stateCollection  = "state"
)

// BackupStore keeps session backups as files, keyed by user and storage key.
type BackupStore struct {
	store *Store
}

// NewBackupStore creates a file-backed backup store.
func NewBackupStore(store *Store) *BackupStore {
	return &BackupStore{store: store}
}

// Save writes a backup.
func (b *BackupStore) Save(_ context.Context, userID, storageKey string, blob []byte) error {
	return b.store.SaveBlob(backupCollection, userID, storageKey, blob)
}

// Restore reads a backup.
func (b *BackupStore) Restore(_ context.Context, userID, storageKey string) ([]byte, error) {
	blob, err := b.store.LoadBlob(backupCollection, userID, storageKey)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrBackupNotFound, userID, storageKey)
	}
	return blob, err
}

// Delete removes a backup. Deleting a missing backup is not an error.
func (b *BackupStore) Delete(_ context.Context, userID, storageKey string) error {
	if err := b.store.DeleteBlob(backupCollection, userID, storageKey); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Keys lists the storage keys backed up for a user.
func (b *BackupStore) Keys(_ context.Context, userID string) ([]string, error) {
	return b.store.ListBlobs(backupCollection, userID)
}

// StateStore keeps live session state as files.
type StateStore struct {
	store *Store
}

// NewStateStore creates a file-backed state store.
func NewStateStore(store *Store) *StateStore {
	return &StateStore{store: store}
}

// Put writes a state blob.
func (s *StateStore) Put(_ context.Context, userID, storageKey string, blob []byte) error {
	return s.store.SaveBlob(stateCollection, userID, storageKey, blob)
}

// Get reads a state blob.
func (s *StateStore) Get(_ context.Context, userID, storageKey string) ([]byte, error) {
	return s.store.LoadBlob(stateCollection, userID, storageKey)
}
