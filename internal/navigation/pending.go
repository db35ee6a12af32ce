package navigation

import (
	"context"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/guard"
)

// Pending is a move held back by the timed-section guard. Exactly one of
// Accept or Decline settles it; afterwards both return ErrNoPendingMove.
// A Pending belongs to one execution and is not safe for concurrent use.
type Pending struct {
	Confirmation guard.Confirmation

	nav     *Navigator
	move    domain.Move
	from    State
	plan    plan
	testMap *domain.TestMap
	settled bool
}

// Move returns the held-back move.
func (p *Pending) Move() domain.Move { return p.move }

// Origin returns the state the move started from.
func (p *Pending) Origin() State { return p.from }

// Accept completes the move exactly as it would have run unguarded. When
// completion fails the move stays pending and may be accepted again.
func (p *Pending) Accept(ctx context.Context) (Outcome, error) {
	if p.settled {
		return Outcome{State: p.from}, domain.ErrNoPendingMove
	}
	out, err := p.nav.commit(ctx, p.from, p.plan, p.testMap)
	if err != nil {
		return out, err
	}
	p.settled = true
	p.nav.logger.Info("timed section exit confirmed",
		"execution_id", p.from.ExecutionID,
		"section_id", p.Confirmation.SectionID)
	return out, nil
}

// Decline abandons the move and returns the state it started from.
func (p *Pending) Decline() (State, error) {
	if p.settled {
		return p.from, domain.ErrNoPendingMove
	}
	p.settled = true
	return p.from, nil
}
