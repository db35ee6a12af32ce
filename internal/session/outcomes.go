package session

import (
	"context"
	"slices"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

// Outcomes scores the recorded responses of an execution for the adaptive
// difficulty model. An item scores the share of its correct-response
// variables answered exactly; items without a correct response or without
// recorded responses are left out. It implements adaptive.OutcomeSource and
// does not take the execution lock, since selection runs inside a move.
func (s *Service) Outcomes(ctx context.Context, executionID string) (map[string]float64, error) {
	s.mu.Lock()
	exec := s.inflight[executionID]
	s.mu.Unlock()

	var m *domain.TestMap
	var err error
	if exec != nil {
		m, err = s.maps.Get(ctx, exec.TestID)
	} else {
		exec, m, err = s.load(ctx, executionID)
	}
	if err != nil {
		return nil, err
	}
	return score(exec.Responses, m), nil
}

func score(responses map[string]map[string][]string, m *domain.TestMap) map[string]float64 {
	out := make(map[string]float64)
	_ = m.Walk(func(loc domain.Location) error {
		vars, ok := responses[loc.Item.ID]
		if !ok || len(loc.Item.Correct) == 0 {
			return nil
		}
		right := 0
		for v, want := range loc.Item.Correct {
			if sameValues(vars[v], want) {
				right++
			}
		}
		out[loc.Item.ID] = float64(right) / float64(len(loc.Item.Correct))
		return nil
	})
	return out
}

// sameValues compares two responses as sets.
func sameValues(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	a, b := slices.Clone(got), slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
