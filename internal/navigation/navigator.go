package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/proctor/internal/adaptive"
	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/guard"
)

// Options configures a Navigator.
type Options struct {
	// Guard intercepts moves leaving timed sections. Nil disables the check.
	Guard *guard.Guard
	// Selector drives adaptive sections. Required when the map has any.
	Selector *adaptive.Selector
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Navigator is the navigation state machine. It holds no per-execution
// state and is safe for concurrent use across executions.
type Navigator struct {
	guard    *guard.Guard
	selector *adaptive.Selector
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Navigator.
func New(opts Options) *Navigator {
	n := &Navigator{
		guard:    opts.Guard,
		selector: opts.Selector,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

type planKind int

const (
	planForward planKind = iota
	planBackward
	planJump
)

// plan is a resolved but not yet applied move.
type plan struct {
	target int
	kind   planKind
	// stay marks moves inside the current adaptive section; cat then holds
	// the updated CAT sessions.
	stay bool
	cat  adaptive.Sessions
}

type strategy func(n *Navigator, ctx context.Context, req Request, st State, loc domain.Location, m *domain.TestMap) (plan, error)

var strategies = map[domain.Move]strategy{
	{Direction: domain.DirectionNext, Scope: domain.ScopeItem}:     (*Navigator).nextItem,
	{Direction: domain.DirectionPrevious, Scope: domain.ScopeItem}: (*Navigator).previousItem,
	{Direction: domain.DirectionJump, Scope: domain.ScopeItem}:     (*Navigator).jumpItem,
	{Direction: domain.DirectionNext, Scope: domain.ScopeSection}:  (*Navigator).nextSection,
	{Direction: domain.DirectionNext, Scope: domain.ScopePart}:     (*Navigator).nextPart,
}

// Supported reports whether the navigator handles the move.
func Supported(mv domain.Move) bool {
	_, ok := strategies[mv]
	return ok
}

// Start creates the initial state of an execution, positioned on the first
// presentable item of the map.
func (n *Navigator) Start(ctx context.Context, executionID string, m *domain.TestMap) (State, error) {
	st := State{
		ExecutionID: executionID,
		Context:     domain.TestContext{ItemPosition: -1},
	}
	out, err := n.commit(ctx, st, plan{target: 0, kind: planForward}, m)
	if err != nil {
		return State{}, err
	}
	if out.Finished {
		return State{}, fmt.Errorf("%w: no item can be presented", domain.ErrInvalidTestMap)
	}
	return out.State, nil
}

// Move applies req to st. On error the returned Outcome carries st
// unchanged. A move leaving a timed section may come back blocked; see
// Pending.
func (n *Navigator) Move(ctx context.Context, req Request, st State, m *domain.TestMap) (Outcome, error) {
	mv := req.Move()
	strat, ok := strategies[mv]
	if !ok {
		return Outcome{State: st}, fmt.Errorf("%w: %s", domain.ErrUnsupportedNavigation, mv)
	}

	loc, ok := m.Locate(st.Context.ItemPosition)
	if !ok {
		return Outcome{State: st}, fmt.Errorf("%w: current position %d", domain.ErrInvalidPosition, st.Context.ItemPosition)
	}

	p, err := strat(n, ctx, req, st, loc, m)
	if err != nil {
		return Outcome{State: st}, err
	}

	if !p.stay && n.guard != nil {
		candidate := ""
		if tl, ok := m.Locate(p.target); ok {
			candidate = tl.Section.ID
		}
		d := n.guard.Check(guard.Request{
			Context:            st.Context,
			Move:               mv,
			Section:            loc.Section,
			Item:               loc.Item,
			CandidateSectionID: candidate,
		})
		if d.Blocked {
			n.logger.Info("move blocked by timed section guard",
				"execution_id", st.ExecutionID,
				"move", mv.String(),
				"section_id", loc.Section.ID)
			return Outcome{
				State: st,
				Pending: &Pending{
					Confirmation: *d.Confirmation,
					nav:          n,
					move:         mv,
					from:         st,
					plan:         p,
					testMap:      m,
				},
			}, nil
		}
	}

	return n.commit(ctx, st, p, m)
}

func (n *Navigator) nextItem(ctx context.Context, req Request, st State, loc domain.Location, m *domain.TestMap) (plan, error) {
	sec := loc.Section

	if st.Context.IsTimeout && sec.Timer.IsSectionMax() {
		return plan{target: sec.Last() + 1, kind: planForward}, nil
	}

	if sec.Adaptive {
		if n.selector == nil {
			return plan{}, adaptive.ErrAlgorithmNotDefined
		}
		sess, ok := st.CAT.Get(sec.ID)
		if !ok {
			sess = n.selector.InitSession(sec.ID)
		}
		next, itemID, err := n.selector.SelectNext(ctx, st.ExecutionID, sess, sec)
		if err != nil {
			return plan{}, err
		}
		if itemID != "" {
			pos, err := positionOf(m, itemID)
			if err != nil {
				return plan{}, err
			}
			return plan{target: pos, kind: planForward, stay: true, cat: st.CAT.With(next)}, nil
		}
		return plan{target: sec.Last() + 1, kind: planForward}, nil
	}

	candidate := loc.Item.Position + 1
	return plan{target: n.applyBranchRules(st, loc, candidate, req.Responses, m), kind: planForward}, nil
}

func (n *Navigator) previousItem(ctx context.Context, req Request, st State, loc domain.Location, m *domain.TestMap) (plan, error) {
	if loc.Part.Linear {
		return plan{}, fmt.Errorf("%w: previous in part %s", domain.ErrNavigationForbidden, loc.Part.ID)
	}

	sec := loc.Section
	target := loc.Item.Position - 1

	if sec.Adaptive {
		sess, ok := st.CAT.Get(sec.ID)
		if ok && !sess.AtFirst() {
			prevID := sess.Items[sess.Cursor-1]
			reconciled, err := n.selector.PersistCursor(sess, prevID)
			if err != nil {
				return plan{}, err
			}
			pos, err := positionOf(m, prevID)
			if err != nil {
				return plan{}, err
			}
			return plan{target: pos, kind: planBackward, stay: true, cat: st.CAT.With(reconciled)}, nil
		}
		target = sec.First() - 1
	}

	if target < 0 {
		return plan{}, fmt.Errorf("%w: no item before position %d", domain.ErrInvalidPosition, loc.Item.Position)
	}
	if prev, _ := m.Locate(target); prev.Part.ID != loc.Part.ID {
		return plan{}, fmt.Errorf("%w: cannot return to part %s", domain.ErrNavigationForbidden, prev.Part.ID)
	}
	return plan{target: target, kind: planBackward}, nil
}

func (n *Navigator) jumpItem(ctx context.Context, req Request, st State, loc domain.Location, m *domain.TestMap) (plan, error) {
	if loc.Part.Linear {
		return plan{}, fmt.Errorf("%w: jump in part %s", domain.ErrNavigationForbidden, loc.Part.ID)
	}
	dest, ok := m.Locate(req.Position)
	if !ok {
		return plan{}, fmt.Errorf("%w: jump target %d", domain.ErrInvalidPosition, req.Position)
	}
	if dest.Part.Linear {
		return plan{}, fmt.Errorf("%w: jump into part %s", domain.ErrNavigationForbidden, dest.Part.ID)
	}
	return plan{target: req.Position, kind: planJump}, nil
}

func (n *Navigator) nextSection(ctx context.Context, req Request, st State, loc domain.Location, m *domain.TestMap) (plan, error) {
	return plan{target: loc.Section.Last() + 1, kind: planForward}, nil
}

func (n *Navigator) nextPart(ctx context.Context, req Request, st State, loc domain.Location, m *domain.TestMap) (plan, error) {
	return plan{target: loc.Part.Last() + 1, kind: planForward}, nil
}

// applyBranchRules resolves branch rules when leaving the current item,
// then the section and the part when the candidate leaves them. Rules are
// only honoured in linear parts and only for forward targets.
func (n *Navigator) applyBranchRules(st State, loc domain.Location, candidate int, responses branch.ResponseStore, m *domain.TestMap) int {
	if responses == nil || !loc.Part.Linear {
		return candidate
	}

	levels := [][]branch.Rule{loc.Item.BranchRules}
	if candidate > loc.Section.Last() {
		levels = append(levels, loc.Section.BranchRules)
	}
	if candidate > loc.Part.Last() {
		levels = append(levels, loc.Part.BranchRules)
	}

	for _, rules := range levels {
		target, ok := branch.Resolve(rules, responses)
		if !ok {
			continue
		}
		pos, ok := m.TargetPosition(target, loc.Item.Position)
		if !ok {
			n.logger.Warn("branch rule target not found",
				"execution_id", st.ExecutionID,
				"target", target)
			continue
		}
		if pos <= loc.Item.Position {
			n.logger.Warn("ignoring backward branch rule target",
				"execution_id", st.ExecutionID,
				"target", target)
			continue
		}
		n.logger.Info("branch rule fired",
			"execution_id", st.ExecutionID,
			"from", loc.Item.ID,
			"target", target,
			"position", pos)
		return pos
	}
	return candidate
}

// commit applies a plan. Entering an adaptive section resolves the item to
// present through the CAT session of that section; sections without any
// item to present are skipped in the direction of travel.
func (n *Navigator) commit(ctx context.Context, st State, p plan, m *domain.TestMap) (Outcome, error) {
	if p.stay {
		loc, _ := m.Locate(p.target)
		next := st
		next.CAT = p.cat
		return Outcome{State: n.land(st, next, loc, m)}, nil
	}

	next := st
	target := p.target
	for {
		if target < 0 {
			return Outcome{State: st}, fmt.Errorf("%w: no item to return to", domain.ErrInvalidPosition)
		}
		if target >= m.Len() {
			return n.finish(st), nil
		}

		loc, _ := m.Locate(target)
		sec := loc.Section
		if !sec.Adaptive {
			return Outcome{State: n.land(st, next, loc, m)}, nil
		}
		if n.selector == nil {
			return Outcome{State: st}, adaptive.ErrAlgorithmNotDefined
		}

		sess, exists := next.CAT.Get(sec.ID)
		switch p.kind {
		case planJump:
			reconciled, err := n.selector.PersistCursor(sess, loc.Item.ID)
			if err != nil {
				return Outcome{State: st}, fmt.Errorf("%w: %v", domain.ErrInvalidPosition, err)
			}
			next.CAT = next.CAT.With(reconciled)
			return Outcome{State: n.land(st, next, loc, m)}, nil

		case planBackward:
			if exists && len(sess.Items) > 0 {
				last := sess.Items[len(sess.Items)-1]
				reconciled, err := n.selector.PersistCursor(sess, last)
				if err != nil {
					return Outcome{State: st}, err
				}
				pos, err := positionOf(m, last)
				if err != nil {
					return Outcome{State: st}, err
				}
				next.CAT = next.CAT.With(reconciled)
				loc, _ = m.Locate(pos)
				return Outcome{State: n.land(st, next, loc, m)}, nil
			}
			target = sec.First() - 1

		default:
			if exists && len(sess.Items) > 0 {
				reconciled, err := n.selector.PersistCursor(sess, sess.Items[0])
				if err != nil {
					return Outcome{State: st}, err
				}
				pos, err := positionOf(m, sess.Items[0])
				if err != nil {
					return Outcome{State: st}, err
				}
				next.CAT = next.CAT.With(reconciled)
				loc, _ = m.Locate(pos)
				return Outcome{State: n.land(st, next, loc, m)}, nil
			}
			if !exists {
				sess = n.selector.InitSession(sec.ID)
				n.logger.Info("adaptive session initialised",
					"execution_id", st.ExecutionID,
					"section_id", sec.ID)
			}
			selected, itemID, err := n.selector.SelectNext(ctx, st.ExecutionID, sess, sec)
			if err != nil {
				return Outcome{State: st}, err
			}
			next.CAT = next.CAT.With(selected)
			if itemID != "" {
				pos, err := positionOf(m, itemID)
				if err != nil {
					return Outcome{State: st}, err
				}
				loc, _ = m.Locate(pos)
				return Outcome{State: n.land(st, next, loc, m)}, nil
			}
			target = sec.Last() + 1
		}
	}
}

// land positions next on loc and recomputes the derived context fields.
// from is the state before the move.
func (n *Navigator) land(from, next State, loc domain.Location, m *domain.TestMap) State {
	c := from.Context.Located(loc)

	if from.Context.SectionID != loc.Section.ID {
		c.IsTimeout = false
		next.Timeline = next.Timeline.Start(loc.Section.ID, n.now())
	}

	next, used := next.withAttempt(loc.Item.ID)
	c.ItemSessionState = domain.ItemInteracting
	c.RemainingAttempts = domain.UnboundedAttempts
	if limit := loc.Item.MaxAttempts; limit > 0 {
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
			c.ItemSessionState = domain.ItemClosed
		}
		c.RemainingAttempts = remaining
	}

	c.NumberPresented = presented(next, loc, m)
	c.IsLast = nextLinear(loc) >= m.Len()
	next.Context = c
	return next
}

func (n *Navigator) finish(st State) Outcome {
	next := st
	next.Context = st.Context.WithItemSessionState(domain.ItemClosed)
	next.Timeline = st.Timeline.Stop(n.now())
	n.logger.Info("end of test reached", "execution_id", st.ExecutionID)
	return Outcome{State: next, Finished: true}
}

// presented counts the items presented up to and including loc: whole
// linear sections before it, the shadow tests of adaptive ones, then the
// offset inside the current section.
func presented(st State, loc domain.Location, m *domain.TestMap) int {
	count := 0
	for pi := range m.Parts {
		p := &m.Parts[pi]
		for si := range p.Sections {
			s := &p.Sections[si]
			if s.ID == loc.Section.ID {
				if s.Adaptive {
					sess, _ := st.CAT.Get(s.ID)
					return count + sess.Cursor + 1
				}
				return count + loc.Item.Position - s.First() + 1
			}
			if s.Adaptive {
				sess, _ := st.CAT.Get(s.ID)
				count += len(sess.Items)
			} else {
				count += len(s.Items)
			}
		}
	}
	return count
}

// nextLinear is the position a plain forward move from loc reaches, which
// skips the rest of an adaptive section.
func nextLinear(loc domain.Location) int {
	if loc.Section.Adaptive {
		return loc.Section.Last() + 1
	}
	return loc.Item.Position + 1
}

// positionOf resolves an item recorded in a shadow test. The item can be
// missing when the test definition was reloaded since it was selected.
func positionOf(m *domain.TestMap, itemID string) (int, error) {
	pos, ok := m.PositionOf(itemID)
	if !ok {
		return 0, fmt.Errorf("%w: item %s missing from test map %s", domain.ErrInvalidPosition, itemID, m.ID)
	}
	return pos, nil
}
