// Package navigation implements the test session state machine: given the
// current position in a test map and a requested movement, it computes the
// next position, consulting branch rules, the timed-section guard and the
// adaptive selector.
package navigation

import (
	"maps"

	"github.com/felixgeelhaar/proctor/internal/adaptive"
	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/guard"
	"github.com/felixgeelhaar/proctor/internal/timeline"
)

// State is everything the navigator reads and produces for one delivery
// execution. Move never modifies the State it receives.
type State struct {
	ExecutionID string             `json:"execution_id"`
	Context     domain.TestContext `json:"context"`
	CAT         adaptive.Sessions  `json:"cat,omitempty"`
	Timeline    timeline.Timeline  `json:"timeline"`
	Attempts    map[string]int     `json:"attempts,omitempty"`
}

func (s State) withAttempt(itemID string) (State, int) {
	attempts := maps.Clone(s.Attempts)
	if attempts == nil {
		attempts = make(map[string]int, 1)
	}
	attempts[itemID]++
	s.Attempts = attempts
	return s, attempts[itemID]
}

// Request is a navigation request. Position is the jump target and is
// ignored by other moves. Responses feeds branch rule evaluation; without
// it branch rules are not evaluated.
type Request struct {
	Direction domain.Direction
	Scope     domain.Scope
	Position  int
	Responses branch.ResponseStore
}

// Move returns the request's direction and scope.
func (r Request) Move() domain.Move {
	return domain.Move{Direction: r.Direction, Scope: r.Scope}
}

// Outcome is the result of a move. When Pending is set the move is blocked
// on a confirmation and State is the unchanged input state. Finished means
// the move left the last item and the test is over.
type Outcome struct {
	State    State
	Pending  *Pending
	Finished bool
}

// Blocked reports whether the move waits for confirmation.
func (o Outcome) Blocked() bool {
	return o.Pending != nil
}

// Confirmation returns the dialog contract of a blocked move.
func (o Outcome) Confirmation() *guard.Confirmation {
	if o.Pending == nil {
		return nil
	}
	c := o.Pending.Confirmation
	return &c
}
