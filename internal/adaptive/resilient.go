package adaptive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// ResilientAlgorithm wraps a remote adaptive engine with a circuit breaker
// and retry with backoff.
type ResilientAlgorithm struct {
	algorithm      Algorithm
	circuitBreaker circuitbreaker.CircuitBreaker[string]
	retrier        retry.Retry[string]
	logger         *slog.Logger
}

// ResilientConfig holds configuration for the resilient wrapper.
type ResilientConfig struct {
	// MaxAttempts per selection (default: 3)
	MaxAttempts int

	// InitialDelay before the first retry (default: 200ms)
	InitialDelay time.Duration

	// FailureThreshold of consecutive failures that opens the circuit (default: 5)
	FailureThreshold int

	// OpenTimeout before a half-open trial call (default: 30s)
	OpenTimeout time.Duration

	// IsPermanent marks errors that must not be retried.
	IsPermanent func(error) bool

	Logger *slog.Logger
}

// DefaultResilientConfig returns sensible defaults for a remote engine.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:      3,
		InitialDelay:     200 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// NewResilientAlgorithm wraps algorithm using fortify.
func NewResilientAlgorithm(algorithm Algorithm, cfg ResilientConfig) *ResilientAlgorithm {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ra := &ResilientAlgorithm{algorithm: algorithm, logger: logger}
	threshold := cfg.FailureThreshold

	ra.circuitBreaker = circuitbreaker.New[string](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= threshold
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			ra.logger.Warn("adaptive engine circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})

	isPermanent := cfg.IsPermanent
	ra.retrier = retry.New[string](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return isPermanent == nil || !isPermanent(err)
		},
	})

	return ra
}

// SelectNext implements Algorithm.
func (r *ResilientAlgorithm) SelectNext(ctx context.Context, in Input) (string, error) {
	return r.circuitBreaker.Execute(ctx, func(ctx context.Context) (string, error) {
		return r.retrier.Do(ctx, func(ctx context.Context) (string, error) {
			return r.algorithm.SelectNext(ctx, in)
		})
	})
}
