package session

import (
	"context"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/offline"
	"github.com/felixgeelhaar/proctor/internal/restoration"
)

// ExecutionService defines the delivery operations used by the MCP server
// and the CLI.
type ExecutionService interface {
	// Start creates an execution positioned on the first item of the test
	Start(ctx context.Context, req StartRequest) (*Execution, error)

	// Get retrieves an execution with its state
	Get(ctx context.Context, id string) (*Execution, error)

	// Move navigates an execution
	Move(ctx context.Context, id string, req MoveRequest) (*MoveResult, error)

	// Confirm settles a move waiting for a timed-section confirmation
	Confirm(ctx context.Context, id string, accept bool) (*MoveResult, error)

	// MarkEndWarningShown records that the end-of-test warning was displayed
	MarkEndWarningShown(ctx context.Context, id string) (*Execution, error)

	// SetExtended stores auxiliary client state with the execution
	SetExtended(ctx context.Context, id string, values map[string]string) (*Execution, error)

	// Restore rebuilds an execution's state from its backups
	Restore(ctx context.Context, id string) (restoration.Report, error)

	// OfflineTable extends and returns the execution's offline jump table
	OfflineTable(ctx context.Context, id string, opts TableOptions) (offline.JumpTable, error)

	// Reconcile replays an offline path against the live navigator
	Reconcile(ctx context.Context, id string, log []offline.Jump) (offline.Reconciliation, error)
}

// Ensure Service implements ExecutionService
var _ ExecutionService = (*Service)(nil)

// ExecutionStore defines the persistence interface for execution metadata.
// Both the JSON file store and the SQLite store implement this.
type ExecutionStore interface {
	Save(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// Ensure Store (JSON) implements ExecutionStore
var _ ExecutionStore = (*Store)(nil)

// BackupWriter receives a copy of every state blob written, so that the
// restoration service can rebuild the state after a crash.
type BackupWriter interface {
	Save(ctx context.Context, userID, storageKey string, blob []byte) error
}

// TestMapProvider resolves test identifiers to indexed test maps.
type TestMapProvider interface {
	Get(ctx context.Context, testID string) (*domain.TestMap, error)
}
