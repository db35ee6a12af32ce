package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/adaptive"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/restoration"
	"github.com/felixgeelhaar/proctor/internal/timeline"
)

// coreState is the core test session blob.
type coreState struct {
	Context  domain.TestContext `json:"context"`
	CAT      adaptive.Sessions  `json:"cat,omitempty"`
	Attempts map[string]int     `json:"attempts,omitempty"`
	Status   Status             `json:"status"`
}

// offlineKey is the state key of an execution's offline jump table. It is
// not backed up: a lost table is rebuilt on demand.
func offlineKey(executionID string) string { return "offline:" + executionID }

// writeSet collects the blobs a state change produced, by storage key.
type writeSet map[string][]byte

func (w writeSet) put(key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	w[key] = blob
	return nil
}

// snapshot encodes the navigation state. Items lists the items whose
// responses changed.
func snapshot(exec *Execution, items ...string) (writeSet, error) {
	w := writeSet{}
	if err := w.put(restoration.CoreKey(exec.ID), coreState{
		Context:  exec.State.Context,
		CAT:      exec.State.CAT,
		Attempts: exec.State.Attempts,
		Status:   exec.Status,
	}); err != nil {
		return nil, err
	}
	if err := w.put(restoration.TimelineKey(exec.ID), exec.State.Timeline); err != nil {
		return nil, err
	}
	for _, id := range items {
		if vars, ok := exec.Responses[id]; ok {
			if err := w.put(restoration.ItemKey(exec.ID, id), vars); err != nil {
				return nil, err
			}
		}
	}
	return w, nil
}

// persist writes the blobs to the state store and mirrors them to the
// backup store. A failed backup is logged; the live state stays authoritative.
func (s *Service) persist(ctx context.Context, exec *Execution, w writeSet) error {
	for key, blob := range w {
		if err := s.states.Put(ctx, exec.UserID, key, blob); err != nil {
			return fmt.Errorf("write state %s: %w", key, err)
		}
		if s.backups == nil {
			continue
		}
		if err := s.backups.Save(ctx, exec.UserID, key, blob); err != nil {
			s.logger.Warn("failed to back up state",
				"execution_id", exec.ID,
				"storage_key", key,
				"error", err)
		}
	}
	return nil
}

// hydrate loads the state of exec from the state store. Only the core blob
// is required; the others default to empty when absent.
func (s *Service) hydrate(ctx context.Context, exec *Execution, m *domain.TestMap) error {
	var core coreState
	if err := s.read(ctx, exec.UserID, restoration.CoreKey(exec.ID), &core); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStateMissing, exec.ID)
		}
		return err
	}
	exec.State.ExecutionID = exec.ID
	exec.State.Context = core.Context
	exec.State.CAT = core.CAT
	exec.State.Attempts = core.Attempts
	if core.Status != "" {
		exec.Status = core.Status
	}

	var tl timeline.Timeline
	if err := s.optional(ctx, exec.UserID, restoration.TimelineKey(exec.ID), &tl); err != nil {
		return err
	}
	exec.State.Timeline = tl

	var ext map[string]string
	if err := s.optional(ctx, exec.UserID, restoration.ExtendedKey(exec.ID), &ext); err != nil {
		return err
	}
	exec.Extended = ext

	exec.Responses = nil
	return m.Walk(func(loc domain.Location) error {
		var vars map[string][]string
		if err := s.optional(ctx, exec.UserID, restoration.ItemKey(exec.ID, loc.Item.ID), &vars); err != nil {
			return err
		}
		exec.withResponses(loc.Item.ID, vars)
		return nil
	})
}

func (s *Service) read(ctx context.Context, userID, key string, v any) error {
	blob, err := s.states.Get(ctx, userID, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Service) optional(ctx context.Context, userID, key string, v any) error {
	if err := s.read(ctx, userID, key, v); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}
