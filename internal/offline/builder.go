package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/navigation"
)

// BuildOptions controls how far ahead a table is computed.
type BuildOptions struct {
	// Depth limits the number of forward steps. Zero walks to the end of the test.
	Depth int
	// IncludeReview adds jump records between every pair of visited
	// positions of non-linear parts.
	IncludeReview bool
	// Responses feeds branch rules while walking. Nil disables them.
	Responses branch.ResponseStore
}

// alternatives are the moves recorded from every visited position besides
// the next item.
var alternatives = []domain.Move{
	{Direction: domain.DirectionPrevious, Scope: domain.ScopeItem},
	{Direction: domain.DirectionNext, Scope: domain.ScopeSection},
	{Direction: domain.DirectionNext, Scope: domain.ScopePart},
}

// Builder precomputes jump tables online with the live navigator.
type Builder struct {
	nav    *navigation.Navigator
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(nav *navigation.Navigator, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{nav: nav, logger: logger}
}

// Build walks the likely path from st, following next/item and accepting
// every timed-section confirmation on the way, and returns table extended
// with the transitions met. st is not modified.
func (b *Builder) Build(ctx context.Context, table JumpTable, st navigation.State, m *domain.TestMap, opts BuildOptions) (JumpTable, error) {
	if table.ExecutionID == "" {
		table.ExecutionID = st.ExecutionID
	}

	var jumps []Jump
	visited := []navigation.State{st}
	cur := st

	for step := 0; opts.Depth <= 0 || step < opts.Depth; step++ {
		if err := ctx.Err(); err != nil {
			return table, err
		}

		for _, mv := range alternatives {
			j, _, ok, err := b.record(ctx, cur, navigation.Request{Direction: mv.Direction, Scope: mv.Scope, Responses: opts.Responses}, m)
			if err != nil {
				return table, err
			}
			if ok {
				jumps = append(jumps, j)
			}
		}

		j, next, ok, err := b.record(ctx, cur, navigation.Request{
			Direction: domain.DirectionNext,
			Scope:     domain.ScopeItem,
			Responses: opts.Responses,
		}, m)
		if err != nil {
			return table, err
		}
		if !ok {
			break
		}
		jumps = append(jumps, j)
		if j.Finished {
			break
		}
		cur = next
		visited = append(visited, cur)
	}

	if opts.IncludeReview {
		review, err := b.review(ctx, visited, m)
		if err != nil {
			return table, err
		}
		jumps = append(jumps, review...)
	}

	out := table.Append(jumps...)
	b.logger.Info("offline jump table built",
		"execution_id", st.ExecutionID,
		"from", st.Context.ItemPosition,
		"visited", len(visited),
		"jumps", out.Len())
	return out, nil
}

func (b *Builder) review(ctx context.Context, visited []navigation.State, m *domain.TestMap) ([]Jump, error) {
	var jumps []Jump
	for _, from := range visited {
		loc, ok := m.Locate(from.Context.ItemPosition)
		if !ok || loc.Part.Linear {
			continue
		}
		for _, to := range visited {
			target := to.Context.ItemPosition
			if target == from.Context.ItemPosition {
				continue
			}
			j, _, ok, err := b.record(ctx, from, navigation.Request{
				Direction: domain.DirectionJump,
				Scope:     domain.ScopeItem,
				Position:  target,
			}, m)
			if err != nil {
				return nil, err
			}
			if ok {
				jumps = append(jumps, j)
			}
		}
	}
	return jumps, nil
}

// record runs one move from st. Moves the navigator refuses at this
// position are not recorded; any other failure aborts the build.
func (b *Builder) record(ctx context.Context, st navigation.State, req navigation.Request, m *domain.TestMap) (Jump, navigation.State, bool, error) {
	out, err := b.nav.Move(ctx, req, st, m)
	if err != nil {
		if refused(err) {
			return Jump{}, st, false, nil
		}
		return Jump{}, st, false, fmt.Errorf("precompute %s from %d: %w", req.Move(), st.Context.ItemPosition, err)
	}

	confirm := false
	if out.Blocked() {
		confirm = true
		out, err = out.Pending.Accept(ctx)
		if err != nil {
			return Jump{}, st, false, fmt.Errorf("precompute confirmed %s from %d: %w", req.Move(), st.Context.ItemPosition, err)
		}
	}

	to := out.State.Context.ItemPosition
	if out.Finished {
		to = m.Len()
	}
	return Jump{
		From:      st.Context.ItemPosition,
		To:        to,
		Direction: req.Direction,
		Scope:     req.Scope,
		Position:  req.Position,
		Context:   out.State.Context,
		Finished:  out.Finished,
		Confirm:   confirm,
	}, out.State, true, nil
}

func refused(err error) bool {
	return errors.Is(err, domain.ErrNavigationForbidden) ||
		errors.Is(err, domain.ErrInvalidPosition) ||
		errors.Is(err, domain.ErrUnsupportedNavigation)
}
