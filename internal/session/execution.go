package session

import (
	"maps"
	"time"

	"github.com/felixgeelhaar/proctor/internal/guard"
	"github.com/felixgeelhaar/proctor/internal/navigation"
)

// Status represents the lifecycle state of a delivery execution
type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Execution is one test-taker's delivery of a test. The metadata is kept by
// an ExecutionStore; State, Extended and Responses live in the state store
// under the keys the restoration service knows about.
type Execution struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	TestID string `json:"test_id"`
	Status Status `json:"status"`

	State    navigation.State  `json:"-"`
	Extended map[string]string `json:"-"`
	// Responses holds the recorded response variables by item identifier.
	Responses map[string]map[string][]string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished reports whether the test is over.
func (e *Execution) Finished() bool {
	return e.Status == StatusFinished
}

func (e *Execution) withResponses(itemID string, vars map[string][]string) {
	if len(vars) == 0 {
		return
	}
	responses := maps.Clone(e.Responses)
	if responses == nil {
		responses = make(map[string]map[string][]string, 1)
	}
	responses[itemID] = maps.Clone(vars)
	e.Responses = responses
}

// MoveResult is what a move or a confirmation produced. Confirmation is set
// when the move waits for the test-taker to confirm leaving a timed section.
type MoveResult struct {
	Execution    *Execution
	Confirmation *guard.Confirmation
	Finished     bool
}
