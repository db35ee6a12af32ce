// Package offline lets a disconnected client keep navigating from a table of
// transitions precomputed online, and reconciles the offline path with the
// live navigator once the client reconnects.
package offline

import (
	"github.com/felixgeelhaar/proctor/internal/domain"
)

// Jump is one precomputed transition. Context is the test context the
// transition produces; Finished marks transitions that end the test.
// Confirm marks transitions that leave a timed section and require the
// test-taker's confirmation. Responses are only set on consumed jumps: the
// response variables the test-taker gave on the item the jump left.
type Jump struct {
	Seq       int                 `json:"seq"`
	From      int                 `json:"from"`
	To        int                 `json:"to"`
	Direction domain.Direction    `json:"direction"`
	Scope     domain.Scope        `json:"scope"`
	Position  int                 `json:"position,omitempty"`
	Context   domain.TestContext  `json:"context"`
	Finished  bool                `json:"finished,omitempty"`
	Confirm   bool                `json:"confirm,omitempty"`
	Responses map[string][]string `json:"responses,omitempty"`
}

// Move returns the jump's direction and scope.
func (j Jump) Move() domain.Move {
	return domain.Move{Direction: j.Direction, Scope: j.Scope}
}

type jumpKey struct {
	from     int
	move     domain.Move
	position int
}

func (j Jump) key() jumpKey {
	k := jumpKey{from: j.From, move: j.Move()}
	if j.Direction == domain.DirectionJump {
		k.position = j.Position
	}
	return k
}

// JumpTable is the ordered, append-only sequence of precomputed jumps of one
// delivery execution. Records are never edited once appended.
type JumpTable struct {
	ExecutionID string `json:"execution_id"`
	Jumps       []Jump `json:"jumps"`
}

// Append returns a table extended with jumps, numbering them in order.
// A jump for a transition the table already knows is dropped.
func (t JumpTable) Append(jumps ...Jump) JumpTable {
	seen := make(map[jumpKey]bool, len(t.Jumps)+len(jumps))
	for _, j := range t.Jumps {
		seen[j.key()] = true
	}

	out := make([]Jump, len(t.Jumps), len(t.Jumps)+len(jumps))
	copy(out, t.Jumps)
	for _, j := range jumps {
		if seen[j.key()] {
			continue
		}
		seen[j.key()] = true
		j.Seq = len(out)
		out = append(out, j)
	}
	t.Jumps = out
	return t
}

// Find returns the first record for the transition. position is only
// compared for jumps.
func (t JumpTable) Find(from int, mv domain.Move, position int) (Jump, bool) {
	want := Jump{From: from, Direction: mv.Direction, Scope: mv.Scope, Position: position}.key()
	for _, j := range t.Jumps {
		if j.key() == want {
			return j, true
		}
	}
	return Jump{}, false
}

// Len returns the number of records.
func (t JumpTable) Len() int { return len(t.Jumps) }
