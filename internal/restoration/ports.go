// Package restoration rebuilds the persisted state of a delivery execution
// from backups after a crash or a browser change, and schedules the cleanup
// of the backups it consumed.
package restoration

import (
	"context"
	"time"
)

// State labels carried by cleanup tasks.
const (
	LabelTestSession = "Test Session"
	LabelExtended    = "Extended"
	LabelTimeline    = "TimeLine"
	LabelTestItem    = "Test Item"
)

// DeliveryExecution identifies the execution to restore.
type DeliveryExecution struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// BackupStore reads and deletes backups. Restore returns an error wrapping
// domain.ErrBackupNotFound when the backup does not exist.
type BackupStore interface {
	Restore(ctx context.Context, userID, storageKey string) ([]byte, error)
	Delete(ctx context.Context, userID, storageKey string) error
}

// StateStore is the live state the restored blobs are written to. Get
// returns an error wrapping domain.ErrNotFound when the key is absent.
type StateStore interface {
	Put(ctx context.Context, userID, storageKey string, blob []byte) error
	Get(ctx context.Context, userID, storageKey string) ([]byte, error)
}

// CleanupTask asks for the deletion of a consumed backup.
type CleanupTask struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	StorageKey string    `json:"storage_key"`
	StateLabel string    `json:"state_label"`
	CreatedAt  time.Time `json:"created_at"`
}

// TaskQueue is the outbound port for cleanup tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task CleanupTask) error
}

// CoreKey is the storage key of the core test session state.
func CoreKey(executionID string) string { return executionID }

// ExtendedKey is the storage key of the extended state.
func ExtendedKey(executionID string) string { return "extended:" + executionID }

// TimelineKey is the storage key of the section timeline.
func TimelineKey(executionID string) string { return "timeline:" + executionID }

// ItemKey is the storage key of an item's state.
func ItemKey(executionID, itemID string) string { return executionID + itemID }

// LedgerKey is the state key recording a completed restoration.
func LedgerKey(executionID string) string { return "restored:" + executionID }
