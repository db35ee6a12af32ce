package navigation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/felixgeelhaar/proctor/internal/adaptive"
	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/guard"
)

var clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func items(ids ...string) []domain.Item {
	out := make([]domain.Item, len(ids))
	for i, id := range ids {
		out[i] = domain.Item{ID: id}
	}
	return out
}

func indexed(t *testing.T, m *domain.TestMap) *domain.TestMap {
	t.Helper()
	if err := m.Index(); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	return m
}

func newNavigator(algo adaptive.Algorithm) *Navigator {
	return New(Options{
		Guard:    guard.New(guard.Config{}),
		Selector: adaptive.NewSelector(algo),
		Now:      func() time.Time { return clock },
	})
}

func next() Request     { return Request{Direction: domain.DirectionNext, Scope: domain.ScopeItem} }
func previous() Request { return Request{Direction: domain.DirectionPrevious, Scope: domain.ScopeItem} }

func move(t *testing.T, n *Navigator, req Request, st State, m *domain.TestMap) Outcome {
	t.Helper()
	out, err := n.Move(context.Background(), req, st, m)
	if err != nil {
		t.Fatalf("Move(%s) error = %v", req.Move(), err)
	}
	return out
}

func TestNavigator_ForwardThroughTest(t *testing.T) {
	m := indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{ID: "S1", Items: items("I1", "I2")},
			{ID: "S2", Items: items("I3")},
		}},
	}})
	n := newNavigator(nil)

	st, err := n.Start(context.Background(), "exec-1", m)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st.Context.ItemIdentifier != "I1" || st.Context.NumberPresented != 1 {
		t.Fatalf("start context = %+v; want I1 presented once", st.Context)
	}
	if st.Context.RemainingAttempts != domain.UnboundedAttempts {
		t.Errorf("RemainingAttempts = %d; want unbounded", st.Context.RemainingAttempts)
	}

	wantIDs := []string{"I2", "I3"}
	for i, want := range wantIDs {
		out := move(t, n, next(), st, m)
		if out.Finished || out.Blocked() {
			t.Fatalf("step %d: unexpected outcome %+v", i, out)
		}
		st = out.State
		if st.Context.ItemIdentifier != want {
			t.Errorf("step %d: item = %s; want %s", i, st.Context.ItemIdentifier, want)
		}
		if st.Context.ItemPosition != i+1 || st.Context.NumberPresented != i+2 {
			t.Errorf("step %d: position %d presented %d", i, st.Context.ItemPosition, st.Context.NumberPresented)
		}
	}
	if !st.Context.IsLast {
		t.Error("IsLast = false on the last item")
	}
	if st.Timeline.Running != "S2" {
		t.Errorf("running section = %q; want S2", st.Timeline.Running)
	}

	out := move(t, n, next(), st, m)
	if !out.Finished {
		t.Fatal("moving past the last item did not finish the test")
	}
	if out.State.Context.ItemSessionState != domain.ItemClosed {
		t.Errorf("ItemSessionState = %s; want closed", out.State.Context.ItemSessionState)
	}
	if out.State.Timeline.Running != "" {
		t.Error("timeline still running after the end of the test")
	}
}

func timedMap(t *testing.T) *domain.TestMap {
	return indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{
				ID:    "S1",
				Label: "Reading",
				Timer: &domain.Timer{Scope: domain.TimerScopeSection, Type: domain.TimerTypeMax, Max: 10 * time.Minute},
				Items: items("I1", "I2"),
			},
			{ID: "S2", Items: items("I3")},
		}},
	}})
}

func TestNavigator_TimedSectionGuard(t *testing.T) {
	m := timedMap(t)
	n := newNavigator(nil)
	ctx := context.Background()

	st, err := n.Start(ctx, "exec-1", m)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	inSection := move(t, n, next(), st, m)
	if inSection.Blocked() {
		t.Fatal("move inside the timed section was blocked")
	}
	st = inSection.State

	out := move(t, n, next(), st, m)
	if !out.Blocked() {
		t.Fatal("leaving the timed section was not blocked")
	}
	if !reflect.DeepEqual(out.State, st) {
		t.Error("blocked move changed the state")
	}
	c := out.Confirmation()
	if c == nil || c.SectionID != "S1" || c.Message == "" {
		t.Fatalf("Confirmation() = %+v", c)
	}

	declined, err := out.Pending.Decline()
	if err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if !reflect.DeepEqual(declined, st) {
		t.Error("declined state differs from the state before the move")
	}
	if _, err := out.Pending.Accept(ctx); !errors.Is(err, domain.ErrNoPendingMove) {
		t.Errorf("Accept() after Decline() error = %v; want ErrNoPendingMove", err)
	}

	again := move(t, n, next(), st, m)
	accepted, err := again.Pending.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if accepted.State.Context.ItemIdentifier != "I3" {
		t.Errorf("accepted move landed on %s; want I3", accepted.State.Context.ItemIdentifier)
	}
	if _, err := again.Pending.Decline(); !errors.Is(err, domain.ErrNoPendingMove) {
		t.Errorf("Decline() after Accept() error = %v; want ErrNoPendingMove", err)
	}
}

// Only leaving a timed section asks for confirmation; entering one does not.
func TestNavigator_TimedSectionEntryAndExit(t *testing.T) {
	m := indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{ID: "S1", Items: items("I1", "I2")},
			{
				ID:    "S2",
				Timer: &domain.Timer{Scope: domain.TimerScopeSection, Type: domain.TimerTypeMax, Max: 10 * time.Minute},
				Items: items("I3"),
			},
		}},
	}})
	n := newNavigator(nil)
	ctx := context.Background()

	st, err := n.Start(ctx, "exec-1", m)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	out := move(t, n, next(), st, m)
	if out.Blocked() || out.State.Context.ItemPosition != 1 || out.State.Context.SectionID != "S1" {
		t.Fatalf("first next = %+v; want position 1 in S1", out.State.Context)
	}

	out = move(t, n, next(), out.State, m)
	if out.Blocked() {
		t.Fatal("entering the timed section was blocked")
	}
	if out.State.Context.ItemPosition != 2 || out.State.Context.SectionID != "S2" {
		t.Fatalf("second next = %+v; want position 2 in S2", out.State.Context)
	}

	inS2 := out.State
	out = move(t, n, next(), inS2, m)
	if !out.Blocked() {
		t.Fatal("leaving the timed section at the end of the test was not blocked")
	}
	if out.Confirmation().SectionID != "S2" {
		t.Errorf("confirmation section = %q; want S2", out.Confirmation().SectionID)
	}
	if !reflect.DeepEqual(out.State, inS2) {
		t.Error("blocked move changed the state")
	}

	done, err := out.Pending.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if !done.Finished {
		t.Error("accepting the exit did not finish the test")
	}
}

func TestNavigator_GuardBypass(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout skips the rest of the section", func(t *testing.T) {
		m := timedMap(t)
		n := newNavigator(nil)
		st, _ := n.Start(ctx, "exec-1", m)
		st.Context = st.Context.WithTimeout(true)

		out := move(t, n, next(), st, m)
		if out.Blocked() {
			t.Fatal("timed out section still asks for confirmation")
		}
		if out.State.Context.ItemIdentifier != "I3" {
			t.Errorf("item = %s; want I3", out.State.Context.ItemIdentifier)
		}
		if out.State.Context.IsTimeout {
			t.Error("IsTimeout carried into the next section")
		}
	})

	t.Run("item category disables the warning", func(t *testing.T) {
		m := timedMap(t)
		m.Parts[0].Sections[0].Items[1].Categories = []string{domain.CategoryNoExitTimedSectionWarning}
		n := newNavigator(nil)
		st, _ := n.Start(ctx, "exec-1", m)
		st = move(t, n, next(), st, m).State

		if out := move(t, n, next(), st, m); out.Blocked() {
			t.Error("flagged item still asks for confirmation")
		}
	})

	t.Run("keep up to timeout", func(t *testing.T) {
		m := timedMap(t)
		n := New(Options{Guard: guard.New(guard.Config{KeepUpToTimeout: true}), Now: func() time.Time { return clock }})
		st, _ := n.Start(ctx, "exec-1", m)
		out := move(t, n, Request{Direction: domain.DirectionNext, Scope: domain.ScopeSection}, st, m)
		if out.Blocked() {
			t.Error("KeepUpToTimeout still asks for confirmation")
		}
		if out.State.Context.SectionID != "S2" {
			t.Errorf("section = %s; want S2", out.State.Context.SectionID)
		}
	})
}

type countingAlgorithm struct {
	calls int
	inner adaptive.Algorithm
}

func (c *countingAlgorithm) SelectNext(ctx context.Context, in adaptive.Input) (string, error) {
	c.calls++
	return c.inner.SelectNext(ctx, in)
}

func adaptiveMap(t *testing.T) *domain.TestMap {
	return indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{ID: "S0", Items: items("I0")},
			{ID: "CAT", Adaptive: true, Items: items("A1", "A2", "A3")},
			{ID: "S2", Items: items("I9")},
		}},
	}})
}

func TestNavigator_AdaptiveSection(t *testing.T) {
	m := adaptiveMap(t)
	algo := &countingAlgorithm{inner: adaptive.SequentialAlgorithm{MaxItems: 2}}
	n := newNavigator(algo)
	ctx := context.Background()

	st, err := n.Start(ctx, "exec-1", m)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	st = move(t, n, next(), st, m).State
	if st.Context.ItemIdentifier != "A1" || !st.Context.IsAdaptive {
		t.Fatalf("entered adaptive section at %+v", st.Context)
	}
	st = move(t, n, next(), st, m).State
	if st.Context.ItemIdentifier != "A2" || st.Context.NumberPresented != 3 {
		t.Fatalf("second adaptive item = %+v", st.Context)
	}

	st = move(t, n, previous(), st, m).State
	if st.Context.ItemIdentifier != "A1" {
		t.Fatalf("previous landed on %s; want A1", st.Context.ItemIdentifier)
	}
	sess, _ := st.CAT.Get("CAT")
	if len(sess.Items) != 2 || sess.Cursor != 0 {
		t.Errorf("shadow test after previous = %+v", sess)
	}

	calls := algo.calls
	st = move(t, n, next(), st, m).State
	if st.Context.ItemIdentifier != "A2" {
		t.Fatalf("replay landed on %s; want A2", st.Context.ItemIdentifier)
	}
	if algo.calls != calls {
		t.Error("algorithm consulted while replaying the shadow test")
	}

	st = move(t, n, next(), st, m).State
	if st.Context.ItemIdentifier != "I9" {
		t.Fatalf("exhausted section continued to %s; want I9", st.Context.ItemIdentifier)
	}
	if st.Context.NumberPresented != 4 {
		t.Errorf("NumberPresented = %d; want 4", st.Context.NumberPresented)
	}
	if !st.Context.IsLast {
		t.Error("IsLast = false on the last item")
	}

	st = move(t, n, previous(), st, m).State
	if st.Context.ItemIdentifier != "A2" {
		t.Errorf("previous into the adaptive section landed on %s; want A2", st.Context.ItemIdentifier)
	}
	if st.Context.IsLast {
		t.Error("IsLast = true inside the adaptive section before I9")
	}
}

func TestNavigator_ShadowTestItemMissingFromMap(t *testing.T) {
	n := newNavigator(adaptive.SequentialAlgorithm{MaxItems: 2})
	ctx := context.Background()

	m := adaptiveMap(t)
	st, _ := n.Start(ctx, "exec-1", m)
	st = move(t, n, next(), st, m).State
	st = move(t, n, next(), st, m).State
	if st.Context.ItemIdentifier != "A2" {
		t.Fatalf("setup landed on %s; want A2", st.Context.ItemIdentifier)
	}

	// The definition was reloaded without A1, which the shadow test still holds
	reloaded := indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{ID: "S0", Items: items("I0")},
			{ID: "CAT", Adaptive: true, Items: items("A2", "A3")},
			{ID: "S2", Items: items("I9")},
		}},
	}})

	out, err := n.Move(ctx, previous(), st, reloaded)
	if !errors.Is(err, domain.ErrInvalidPosition) {
		t.Fatalf("Move() error = %v; want ErrInvalidPosition", err)
	}
	if !reflect.DeepEqual(out.State, st) {
		t.Error("failed move changed the state")
	}
}

func TestNavigator_AdaptiveJump(t *testing.T) {
	m := adaptiveMap(t)
	n := newNavigator(adaptive.SequentialAlgorithm{})
	ctx := context.Background()

	st, _ := n.Start(ctx, "exec-1", m)
	st = move(t, n, next(), st, m).State

	a3, _ := m.PositionOf("A3")
	_, err := n.Move(ctx, Request{Direction: domain.DirectionJump, Scope: domain.ScopeItem, Position: a3}, st, m)
	if !errors.Is(err, domain.ErrInvalidPosition) {
		t.Errorf("jump to an unadministered item error = %v; want ErrInvalidPosition", err)
	}

	i0, _ := m.PositionOf("I0")
	out := move(t, n, Request{Direction: domain.DirectionJump, Scope: domain.ScopeItem, Position: i0}, st, m)
	if out.State.Context.ItemIdentifier != "I0" {
		t.Errorf("jump landed on %s; want I0", out.State.Context.ItemIdentifier)
	}
}

func TestNavigator_StartSkipsEmptyAdaptiveSection(t *testing.T) {
	m := indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{ID: "CAT", Adaptive: true, Items: items("A1")},
			{ID: "S1", Items: items("I1")},
		}},
	}})
	empty := adaptive.AlgorithmFunc(func(context.Context, adaptive.Input) (string, error) { return "", nil })
	n := newNavigator(empty)

	st, err := n.Start(context.Background(), "exec-1", m)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st.Context.ItemIdentifier != "I1" {
		t.Errorf("start item = %s; want I1", st.Context.ItemIdentifier)
	}

	only := indexed(t, &domain.TestMap{ID: "T2", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{{ID: "CAT", Adaptive: true, Items: items("A1")}}},
	}})
	if _, err := n.Start(context.Background(), "exec-2", only); !errors.Is(err, domain.ErrInvalidTestMap) {
		t.Errorf("Start() error = %v; want ErrInvalidTestMap", err)
	}
}

func branchMap(t *testing.T) *domain.TestMap {
	correct := branch.Match{Variable: "RESPONSE", Correct: true}
	return indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Linear: true, Sections: []domain.Section{
			{
				ID: "S1",
				Items: []domain.Item{
					{ID: "Q1", BranchRules: []branch.Rule{{Target: "Q3", Conditions: []branch.Expr{correct}}}},
					{ID: "Q2", BranchRules: []branch.Rule{{Target: "Q4", Conditions: []branch.Expr{correct}}}},
				},
				BranchRules: []branch.Rule{{Target: domain.TargetExitTest, Conditions: []branch.Expr{correct}}},
			},
			{ID: "S2", Items: items("Q3", "Q4")},
		}},
	}})
}

func TestNavigator_BranchRules(t *testing.T) {
	m := branchMap(t)
	n := newNavigator(nil)
	ctx := context.Background()

	right := branch.NewResponses()
	right.Set("RESPONSE", "choice_a")
	right.SetCorrect("RESPONSE", "choice_a")
	wrong := branch.NewResponses()
	wrong.Set("RESPONSE", "choice_b")
	wrong.SetCorrect("RESPONSE", "choice_a")

	start, _ := n.Start(ctx, "exec-1", m)

	tests := []struct {
		name      string
		from      string
		responses branch.ResponseStore
		want      string
	}{
		{"item rule fires", "Q1", right, "Q3"},
		{"item rule does not fire", "Q1", wrong, "Q2"},
		{"no responses", "Q1", nil, "Q2"},
		{"item rule wins over section rule", "Q2", right, "Q4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := start
			if tt.from != "Q1" {
				st = move(t, n, Request{Direction: domain.DirectionNext, Scope: domain.ScopeItem}, start, m).State
			}
			req := next()
			req.Responses = tt.responses
			out := move(t, n, req, st, m)
			if got := out.State.Context.ItemIdentifier; got != tt.want {
				t.Errorf("landed on %s; want %s", got, tt.want)
			}
		})
	}

	t.Run("section rule applies when leaving the section", func(t *testing.T) {
		m := branchMap(t)
		m.Parts[0].Sections[0].Items[1].BranchRules = nil
		st := move(t, n, next(), start, m).State
		req := next()
		req.Responses = right
		out := move(t, n, req, st, m)
		if !out.Finished {
			t.Errorf("EXIT_TEST section rule did not end the test, landed on %s", out.State.Context.ItemIdentifier)
		}
	})
}

func TestNavigator_Errors(t *testing.T) {
	m := branchMap(t)
	n := newNavigator(nil)
	ctx := context.Background()
	st, _ := n.Start(ctx, "exec-1", m)
	st = move(t, n, next(), st, m).State

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unsupported pair", Request{Direction: domain.DirectionPrevious, Scope: domain.ScopeSection}, domain.ErrUnsupportedNavigation},
		{"previous in linear part", previous(), domain.ErrNavigationForbidden},
		{"jump in linear part", Request{Direction: domain.DirectionJump, Scope: domain.ScopeItem}, domain.ErrNavigationForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := n.Move(ctx, tt.req, st, m)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Move() error = %v; want %v", err, tt.want)
			}
			if !reflect.DeepEqual(out.State, st) {
				t.Error("failed move changed the state")
			}
		})
	}
}

func TestNavigator_PreviousAtStart(t *testing.T) {
	m := adaptiveMap(t)
	n := newNavigator(adaptive.SequentialAlgorithm{})
	st, _ := n.Start(context.Background(), "exec-1", m)

	if _, err := n.Move(context.Background(), previous(), st, m); !errors.Is(err, domain.ErrInvalidPosition) {
		t.Errorf("Move() error = %v; want ErrInvalidPosition", err)
	}
}

func TestNavigator_Attempts(t *testing.T) {
	m := indexed(t, &domain.TestMap{ID: "T", Parts: []domain.Part{
		{ID: "P1", Sections: []domain.Section{
			{ID: "S1", Items: []domain.Item{{ID: "I1", MaxAttempts: 1}, {ID: "I2"}}},
		}},
	}})
	n := newNavigator(nil)
	ctx := context.Background()

	st, _ := n.Start(ctx, "exec-1", m)
	if st.Context.RemainingAttempts != 0 || st.Context.ItemSessionState != domain.ItemInteracting {
		t.Fatalf("first attempt context = %+v", st.Context)
	}

	forward := move(t, n, next(), st, m).State
	if st.Attempts["I2"] != 0 {
		t.Error("Move modified the input state's attempts")
	}

	back := move(t, n, previous(), forward, m).State
	if back.Context.ItemSessionState != domain.ItemClosed {
		t.Errorf("ItemSessionState = %s; want closed after the attempts ran out", back.Context.ItemSessionState)
	}
	if back.Attempts["I1"] != 2 {
		t.Errorf("Attempts[I1] = %d; want 2", back.Attempts["I1"])
	}
}

func TestNavigator_Timeline(t *testing.T) {
	m := timedMap(t)
	now := clock
	n := New(Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	st, _ := n.Start(ctx, "exec-1", m)
	now = now.Add(3 * time.Minute)
	st = move(t, n, Request{Direction: domain.DirectionNext, Scope: domain.ScopeSection}, st, m).State

	if got := st.Timeline.Elapsed("S1", now); got != 3*time.Minute {
		t.Errorf("Elapsed(S1) = %v; want 3m", got)
	}
	if st.Timeline.Running != "S2" {
		t.Errorf("running = %q; want S2", st.Timeline.Running)
	}
}

func TestSupported(t *testing.T) {
	if !Supported(domain.Move{Direction: domain.DirectionNext, Scope: domain.ScopePart}) {
		t.Error("next/part not supported")
	}
	if Supported(domain.Move{Direction: domain.DirectionJump, Scope: domain.ScopeSection}) {
		t.Error("jump/section reported as supported")
	}
}
