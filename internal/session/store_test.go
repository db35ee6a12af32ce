package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/proctor/internal/storage/local"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewStore(store)
}

func TestStore_SaveGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exec := &Execution{
		ID:        "exec-1",
		UserID:    "u-1",
		TestID:    "t-1",
		Status:    StatusActive,
		Extended:  map[string]string{"not": "persisted"},
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := s.Save(ctx, exec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u-1" || got.TestID != "t-1" || got.Status != StatusActive {
		t.Errorf("Get() = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v; want %v", got.CreatedAt, created)
	}
	if got.Extended != nil {
		t.Error("state fields must not be stored with the metadata")
	}
}

func TestStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v; want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v; want ErrNotFound", err)
	}
}

func TestStore_ListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, &Execution{ID: id, Status: StatusActive}); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("List() = %v; want 2 ids", ids)
	}
}
