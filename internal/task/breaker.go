package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerRegistry manages one circuit breaker per task type. When a type's
// handler fails repeatedly within a pass, its breaker opens and the
// dispatcher short-circuits further attempts of that type instead of
// hammering a downed dependency, while other types keep flowing.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewBreakerRegistry creates an empty breaker registry.
func NewBreakerRegistry(logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger.With(slog.String("component", "breaker_registry")),
	}
}

// For returns the circuit breaker for the given task type, creating it on
// first use.
func (r *BreakerRegistry) For(taskType string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[taskType]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        taskType,
		MaxRequests: 3,                // probe volume while half-open
		Interval:    0,                // counts reset only on state change
		Timeout:     30 * time.Second, // open duration before probing
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				slog.String("task_type", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Budget expiry is the pass's doing, not the dependency's.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			// A permanent failure is the task's own defect; it says nothing
			// about the health of the type's dependency.
			var permanent *PermanentError
			return errors.As(err, &permanent)
		},
	})

	r.breakers[taskType] = cb
	return cb
}

// IsBreakerOpen reports whether err came from an open or saturated breaker
// rather than from the handler itself.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
