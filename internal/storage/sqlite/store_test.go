package sqlite

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/session"
)

func TestExecutionStore(t *testing.T) {
	store := NewExecutionStore(openTestDB(t))
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exec := &session.Execution{
		ID:        "exec-1",
		UserID:    "u-1",
		TestID:    "math-101",
		Status:    session.StatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := store.Save(ctx, exec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	exec.Status = session.StatusFinished
	exec.UpdatedAt = created.Add(time.Hour)
	if err := store.Save(ctx, exec); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}

	got, err := store.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != session.StatusFinished || got.TestID != "math-101" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.UpdatedAt.Equal(exec.UpdatedAt) {
		t.Errorf("UpdatedAt = %v; want %v", got.UpdatedAt, exec.UpdatedAt)
	}

	later := &session.Execution{ID: "exec-2", UserID: "u-1", TestID: "t", Status: session.StatusActive, CreatedAt: created.Add(time.Minute), UpdatedAt: created}
	if err := store.Save(ctx, later); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "exec-2" {
		t.Errorf("List() = %v; want newest first", ids)
	}

	if err := store.Delete(ctx, "exec-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "exec-1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() after delete error = %v; want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "exec-1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Delete() twice error = %v; want ErrNotFound", err)
	}

	ids, _ = store.List(ctx)
	if len(ids) != 1 {
		t.Errorf("List() = %v; want 1 id", ids)
	}
}

func TestStateStore(t *testing.T) {
	states := NewStateStore(openTestDB(t))
	ctx := context.Background()

	if _, err := states.Get(ctx, "u-1", "exec-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v; want ErrNotFound", err)
	}

	if err := states.Put(ctx, "u-1", "exec-1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := states.Put(ctx, "u-1", "exec-1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	got, err := states.Get(ctx, "u-1", "exec-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte(`{"v":2}`)) {
		t.Errorf("Get() = %s", got)
	}

	if _, err := states.Get(ctx, "u-2", "exec-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("state leaked across users: %v", err)
	}
}

func TestBackupStore(t *testing.T) {
	backups := NewBackupStore(openTestDB(t))
	ctx := context.Background()

	for _, key := range []string{"exec-1", "timeline:exec-1"} {
		if err := backups.Save(ctx, "u-1", key, []byte(key)); err != nil {
			t.Fatalf("Save(%s) error = %v", key, err)
		}
	}

	got, err := backups.Restore(ctx, "u-1", "timeline:exec-1")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if string(got) != "timeline:exec-1" {
		t.Errorf("Restore() = %s", got)
	}

	keys, err := backups.Keys(ctx, "u-1")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys() = %v", keys)
	}

	if err := backups.Delete(ctx, "u-1", "exec-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := backups.Delete(ctx, "u-1", "exec-1"); err != nil {
		t.Errorf("Delete() of a missing backup error = %v", err)
	}
	if _, err := backups.Restore(ctx, "u-1", "exec-1"); !errors.Is(err, domain.ErrBackupNotFound) {
		t.Errorf("Restore() after delete error = %v; want ErrBackupNotFound", err)
	}
}
