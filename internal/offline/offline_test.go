package offline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/guard"
	"github.com/felixgeelhaar/proctor/internal/navigation"
)

func setup(t *testing.T) (*navigation.Navigator, *domain.TestMap, navigation.State) {
	t.Helper()
	m := &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{
				ID:    "S1",
				Timer: &domain.Timer{Scope: domain.TimerScopeSection, Type: domain.TimerTypeMax, Max: time.Minute},
				Items: []domain.Item{{ID: "I1"}, {ID: "I2"}},
			},
			{ID: "S2", Items: []domain.Item{{ID: "I3"}}},
		}},
	}}
	if err := m.Index(); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	nav := navigation.New(navigation.Options{
		Guard: guard.New(guard.Config{}),
		Now:   func() time.Time { return clock },
	})
	st, err := nav.Start(context.Background(), "exec-1", m)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return nav, m, st
}

func TestBuilder_Build(t *testing.T) {
	nav, m, st := setup(t)
	b := NewBuilder(nav, nil)

	table, err := b.Build(context.Background(), JumpTable{}, st, m, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if table.ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q", table.ExecutionID)
	}

	for i, j := range table.Jumps {
		if j.Seq != i {
			t.Errorf("Jumps[%d].Seq = %d", i, j.Seq)
		}
	}

	next := domain.Move{Direction: domain.DirectionNext, Scope: domain.ScopeItem}
	j, ok := table.Find(1, next, 0)
	if !ok || j.To != 2 || !j.Confirm {
		t.Errorf("next from 1 = %+v, %v; want a confirmed jump to 2", j, ok)
	}
	j, ok = table.Find(2, next, 0)
	if !ok || !j.Finished || j.To != m.Len() {
		t.Errorf("next from 2 = %+v, %v; want end of test", j, ok)
	}
	if _, ok := table.Find(0, domain.Move{Direction: domain.DirectionPrevious, Scope: domain.ScopeItem}, 0); ok {
		t.Error("recorded previous from the first position")
	}

	limited, err := b.Build(context.Background(), JumpTable{}, st, m, BuildOptions{Depth: 1})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := limited.Find(1, next, 0); ok {
		t.Error("Depth 1 recorded moves beyond the first step")
	}
}

func TestBuilder_Review(t *testing.T) {
	nav, m, st := setup(t)
	table, err := NewBuilder(nav, nil).Build(context.Background(), JumpTable{}, st, m, BuildOptions{IncludeReview: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	jump := domain.Move{Direction: domain.DirectionJump, Scope: domain.ScopeItem}
	j, ok := table.Find(2, jump, 0)
	if !ok || j.Context.ItemIdentifier != "I1" {
		t.Errorf("review jump 2 -> 0 = %+v, %v", j, ok)
	}
}

func TestJumpTable_AppendOnly(t *testing.T) {
	base := JumpTable{}.Append(Jump{From: 0, To: 1, Direction: domain.DirectionNext, Scope: domain.ScopeItem})
	grown := base.Append(
		Jump{From: 0, To: 5, Direction: domain.DirectionNext, Scope: domain.ScopeItem},
		Jump{From: 1, To: 2, Direction: domain.DirectionNext, Scope: domain.ScopeItem},
	)

	if base.Len() != 1 {
		t.Errorf("base.Len() = %d; Append modified the receiver", base.Len())
	}
	if grown.Len() != 2 {
		t.Fatalf("grown.Len() = %d; want 2", grown.Len())
	}
	if grown.Jumps[0].To != 1 {
		t.Error("existing record was replaced")
	}
	if grown.Jumps[1].Seq != 1 {
		t.Errorf("Seq = %d; want 1", grown.Jumps[1].Seq)
	}
}

func TestNavigator_Navigate(t *testing.T) {
	nav, m, st := setup(t)
	table, err := NewBuilder(nav, nil).Build(context.Background(), JumpTable{}, st, m, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	off := NewNavigator(table, st.Context)
	steps := []struct {
		dir  domain.Direction
		want string
	}{
		{domain.DirectionNext, "I2"},
		{domain.DirectionNext, "I3"},
		{domain.DirectionPrevious, "I2"},
	}
	for _, s := range steps {
		c, err := off.Navigate(s.dir, domain.ScopeItem, 0, Params{})
		if err != nil {
			t.Fatalf("Navigate(%s) error = %v", s.dir, err)
		}
		if c.ItemIdentifier != s.want {
			t.Errorf("Navigate(%s) = %s; want %s", s.dir, c.ItemIdentifier, s.want)
		}
	}
	if last, _ := off.Last(); last.Direction != domain.DirectionPrevious {
		t.Errorf("Last() = %+v", last)
	}
	if len(off.Log()) != 3 {
		t.Errorf("len(Log()) = %d; want 3", len(off.Log()))
	}

	before := off.Context()
	if _, err := off.Navigate(domain.DirectionPrevious, domain.ScopePart, 0, Params{}); !errors.Is(err, domain.ErrIllegalNavigation) {
		t.Errorf("Navigate(previous, part) error = %v; want ErrIllegalNavigation", err)
	}
	if _, err := off.Navigate(domain.DirectionJump, domain.ScopeItem, 2, Params{}); !errors.Is(err, domain.ErrStaleJumpTable) {
		t.Errorf("Navigate(jump) error = %v; want ErrStaleJumpTable", err)
	}
	if !reflect.DeepEqual(off.Context(), before) {
		t.Error("failed navigation changed the context")
	}
	if len(off.Log()) != 3 {
		t.Error("failed navigation was logged")
	}

	if _, err := off.Navigate(domain.DirectionNext, domain.ScopeItem, 0, Params{}); err != nil {
		t.Fatalf("Navigate(next) error = %v", err)
	}
	if _, err := off.Navigate(domain.DirectionNext, domain.ScopeItem, 0, Params{}); err != nil {
		t.Fatalf("Navigate(next) error = %v", err)
	}
	if !off.Finished() {
		t.Fatal("offline path did not reach the end of the test")
	}
	if _, err := off.Navigate(domain.DirectionNext, domain.ScopeItem, 0, Params{}); !errors.Is(err, domain.ErrEndOfTest) {
		t.Errorf("Navigate() after the end error = %v; want ErrEndOfTest", err)
	}
}

func TestReconciler_Reconcile(t *testing.T) {
	nav, m, st := setup(t)
	ctx := context.Background()
	table, err := NewBuilder(nav, nil).Build(ctx, JumpTable{}, st, m, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	off := NewNavigator(table, st.Context)
	for _, dir := range []domain.Direction{domain.DirectionNext, domain.DirectionNext, domain.DirectionPrevious} {
		if _, err := off.Navigate(dir, domain.ScopeItem, 0, Params{}); err != nil {
			t.Fatalf("Navigate(%s) error = %v", dir, err)
		}
	}

	r := NewReconciler(nav, nil)
	res, err := r.Reconcile(ctx, st, off.Log(), m, nil)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Diverged {
		t.Fatalf("Reconcile() diverged: %s", res.Reason)
	}
	if res.Applied != 3 || res.State.Context.ItemIdentifier != "I2" {
		t.Errorf("Reconcile() = applied %d at %s; want 3 at I2", res.Applied, res.State.Context.ItemIdentifier)
	}

	t.Run("divergence keeps the server state", func(t *testing.T) {
		log := off.Log()
		log[1].To = 0
		res, err := r.Reconcile(ctx, st, log, m, nil)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if !res.Diverged || res.DivergedAt == nil || res.DivergedAt.Seq != log[1].Seq {
			t.Fatalf("Reconcile() = %+v; want divergence at the second jump", res)
		}
		if !reflect.DeepEqual(res.State, st) {
			t.Error("diverged reconciliation did not return the confirmed state")
		}
	})

	t.Run("missing confirmation diverges", func(t *testing.T) {
		log := off.Log()
		log[1].Confirm = false
		res, _ := r.Reconcile(ctx, st, log, m, nil)
		if !res.Diverged {
			t.Error("unconfirmed timed section exit was accepted")
		}
	})
}

func TestReconciler_ReplaysResponsesInOrder(t *testing.T) {
	nav, m, st := setup(t)
	ctx := context.Background()
	table, err := NewBuilder(nav, nil).Build(ctx, JumpTable{}, st, m, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	off := NewNavigator(table, st.Context)
	answer := map[string][]string{"RESPONSE": {"choice_a"}}
	if _, err := off.Navigate(domain.DirectionNext, domain.ScopeItem, 0, Params{Responses: answer}); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if _, err := off.Navigate(domain.DirectionNext, domain.ScopeItem, 0, Params{}); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	answer["RESPONSE"] = []string{"changed"}

	log := off.Log()
	if got := log[0].Responses["RESPONSE"]; !reflect.DeepEqual(got, []string{"choice_a"}) {
		t.Fatalf("Log()[0].Responses = %v; want the answer given on navigation", log[0].Responses)
	}
	if log[1].Responses != nil {
		t.Errorf("Log()[1].Responses = %v; want none", log[1].Responses)
	}

	var seen []string
	res, err := NewReconciler(nav, nil).Reconcile(ctx, st, log, m, func(at navigation.State, j Jump) branch.ResponseStore {
		seen = append(seen, at.Context.ItemIdentifier)
		return nil
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Diverged {
		t.Fatalf("Reconcile() diverged: %s", res.Reason)
	}
	if !reflect.DeepEqual(seen, []string{"I1", "I2"}) {
		t.Errorf("responses requested from %v; want [I1 I2]", seen)
	}
}
