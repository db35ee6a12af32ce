package adaptive

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// SequentialAlgorithm administers the pool in map order, stopping after
// MaxItems selections when MaxItems is positive.
type SequentialAlgorithm struct {
	MaxItems int
}

// SelectNext implements Algorithm.
func (a SequentialAlgorithm) SelectNext(_ context.Context, in Input) (string, error) {
	if a.MaxItems > 0 && len(in.Administered) >= a.MaxItems {
		return "", nil
	}
	for _, id := range in.Pool {
		if !slices.Contains(in.Administered, id) {
			return id, nil
		}
	}
	return "", nil
}

// Calibration holds the item parameters of the difficulty model.
type Calibration struct {
	Difficulty     float64 `json:"difficulty" yaml:"difficulty"`
	Discrimination float64 `json:"discrimination" yaml:"discrimination"`
}

// OutcomeSource reports the score, between 0 and 1, obtained on each
// administered item of an execution.
type OutcomeSource interface {
	Outcomes(ctx context.Context, executionID string) (map[string]float64, error)
}

// OutcomeFunc adapts a function to OutcomeSource.
type OutcomeFunc func(ctx context.Context, executionID string) (map[string]float64, error)

// Outcomes implements OutcomeSource.
func (f OutcomeFunc) Outcomes(ctx context.Context, executionID string) (map[string]float64, error) {
	return f(ctx, executionID)
}

// DifficultyAlgorithm keeps a running ability estimate from the outcomes of
// administered items and picks the unadministered item whose difficulty is
// closest to it. Items without calibration are treated as difficulty 0.
type DifficultyAlgorithm struct {
	Calibrations map[string]Calibration
	Outcomes     OutcomeSource
	MaxItems     int
	// Step scales each ability update. Zero means 1.
	Step float64
}

// SelectNext implements Algorithm.
func (a DifficultyAlgorithm) SelectNext(ctx context.Context, in Input) (string, error) {
	if a.MaxItems > 0 && len(in.Administered) >= a.MaxItems {
		return "", nil
	}

	var outcomes map[string]float64
	if a.Outcomes != nil && len(in.Administered) > 0 {
		var err error
		outcomes, err = a.Outcomes.Outcomes(ctx, in.ExecutionID)
		if err != nil {
			return "", fmt.Errorf("load outcomes: %w", err)
		}
	}

	ability := a.Ability(in.Administered, outcomes)

	best := ""
	bestDistance := math.Inf(1)
	for _, id := range in.Pool {
		if slices.Contains(in.Administered, id) {
			continue
		}
		d := math.Abs(a.Calibrations[id].Difficulty - ability)
		if d < bestDistance {
			best, bestDistance = id, d
		}
	}
	return best, nil
}

// Ability estimates the test-taker's ability with one logistic update per
// administered item, in administration order.
func (a DifficultyAlgorithm) Ability(administered []string, outcomes map[string]float64) float64 {
	step := a.Step
	if step == 0 {
		step = 1
	}

	theta := 0.0
	for _, id := range administered {
		score, ok := outcomes[id]
		if !ok {
			continue
		}
		cal := a.Calibrations[id]
		disc := cal.Discrimination
		if disc == 0 {
			disc = 1
		}
		p := 1 / (1 + math.Exp(-disc*(theta-cal.Difficulty)))
		theta += step * (score - p)
	}
	return theta
}
