package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/storage/local"
)

const collectionExecutions = "executions"

var (
	ErrNotFound            = fmt.Errorf("execution %w", domain.ErrNotFound)
	ErrConfirmationPending = errors.New("a move is waiting for confirmation")
	ErrStateMissing        = errors.New("execution state missing, restore required")
)

// Store handles execution metadata persistence in JSON files
type Store struct {
	store *local.Store
}

// NewStore creates a new execution store
func NewStore(store *local.Store) *Store {
	return &Store{store: store}
}

// Save persists an execution
func (s *Store) Save(_ context.Context, exec *Execution) error {
	return s.store.Save(collectionExecutions, exec.ID, exec)
}

// Get retrieves an execution by ID
func (s *Store) Get(_ context.Context, id string) (*Execution, error) {
	var exec Execution
	if err := s.store.Load(collectionExecutions, id, &exec); err != nil {
		if errors.Is(err, local.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &exec, nil
}

// Delete removes an execution
func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.store.Delete(collectionExecutions, id); err != nil {
		if errors.Is(err, local.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// List returns all execution IDs
func (s *Store) List(_ context.Context) ([]string, error) {
	return s.store.List(collectionExecutions)
}
