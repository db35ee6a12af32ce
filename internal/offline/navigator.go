package offline

import (
	"fmt"
	"maps"
	"slices"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

type resolver func(n *Navigator, mv domain.Move, position int) (Jump, error)

var dispatch = map[domain.Move]resolver{
	{Direction: domain.DirectionNext, Scope: domain.ScopeItem}:     (*Navigator).replay,
	{Direction: domain.DirectionPrevious, Scope: domain.ScopeItem}: (*Navigator).replay,
	{Direction: domain.DirectionNext, Scope: domain.ScopeSection}:  (*Navigator).replay,
	{Direction: domain.DirectionNext, Scope: domain.ScopePart}:     (*Navigator).replay,
	{Direction: domain.DirectionJump, Scope: domain.ScopeItem}:     (*Navigator).replayJump,
}

// Navigator answers moves from a jump table while the client is offline.
// Every answered move is appended to the consumption log that is replayed
// on reconnect. A Navigator belongs to one execution and is not safe for
// concurrent use.
type Navigator struct {
	table    JumpTable
	context  domain.TestContext
	finished bool
	log      []Jump
}

// NewNavigator starts offline navigation at the last confirmed context.
func NewNavigator(table JumpTable, confirmed domain.TestContext) *Navigator {
	return &Navigator{table: table, context: confirmed}
}

// Params carries what the client submits with an offline move.
type Params struct {
	// Responses are the response variables of the item being left. They
	// travel with the consumed jump so reconciliation can record them and
	// feed them to branch rules.
	Responses map[string][]string
}

// Navigate resolves the move from the table and returns the new context.
// The context is left unchanged on error.
func (n *Navigator) Navigate(direction domain.Direction, scope domain.Scope, position int, params Params) (domain.TestContext, error) {
	mv := domain.Move{Direction: direction, Scope: scope}
	resolve, ok := dispatch[mv]
	if !ok {
		return n.context, fmt.Errorf("%w: %s", domain.ErrIllegalNavigation, mv)
	}
	if n.finished {
		return n.context, domain.ErrEndOfTest
	}

	j, err := resolve(n, mv, position)
	if err != nil {
		return n.context, err
	}
	j.Responses = maps.Clone(params.Responses)
	n.log = append(n.log, j)
	n.context = j.Context
	n.finished = j.Finished
	return n.context, nil
}

func (n *Navigator) replay(mv domain.Move, _ int) (Jump, error) {
	j, ok := n.table.Find(n.context.ItemPosition, mv, 0)
	if !ok {
		return Jump{}, fmt.Errorf("%w: no %s record from position %d", domain.ErrStaleJumpTable, mv, n.context.ItemPosition)
	}
	return j, nil
}

func (n *Navigator) replayJump(mv domain.Move, position int) (Jump, error) {
	j, ok := n.table.Find(n.context.ItemPosition, mv, position)
	if !ok {
		return Jump{}, fmt.Errorf("%w: no jump record from %d to %d", domain.ErrStaleJumpTable, n.context.ItemPosition, position)
	}
	return j, nil
}

// Context returns the current offline context.
func (n *Navigator) Context() domain.TestContext { return n.context }

// Finished reports whether the offline path reached the end of the test.
func (n *Navigator) Finished() bool { return n.finished }

// Log returns the consumed jumps in the order they were answered.
func (n *Navigator) Log() []Jump { return slices.Clone(n.log) }

// Last returns the most recently consumed jump, for instance to check
// whether it required a timed-section confirmation.
func (n *Navigator) Last() (Jump, bool) {
	if len(n.log) == 0 {
		return Jump{}, false
	}
	return n.log[len(n.log)-1], true
}
