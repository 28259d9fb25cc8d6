package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/sony/gobreaker"
)

// newBreaker trips when at least 60% of 5 or more calls in a 10s window fail.
// Domain outcomes and caller cancellation do not count as failures.
func newBreaker(m *metrics.StoreMetrics) *gobreaker.CircuitBreaker {
	m.CircuitBreakerState.WithLabelValues(backendName).Set(stateToFloat(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backendName,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrStoryNotFound) ||
				errors.Is(err, domain.ErrVoteNotFound) ||
				errors.Is(err, domain.ErrAlreadyVoted) ||
				errors.Is(err, domain.ErrInvalidInput) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", backendName,
				"from", from.String(),
				"to", to.String(),
			)
			m.CircuitBreakerFlips.WithLabelValues(backendName, to.String()).Inc()
			m.CircuitBreakerState.WithLabelValues(backendName).Set(stateToFloat(to))
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
