package task

import (
	"fmt"
	"time"
)

// defaultRetryDelays is the stock retry ladder: quick first retry for
// blips, then progressively longer waits for real outages.
var defaultRetryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// defaultMaxAttempts bounds how many times a task runs before parking in
// the dead-letter set.
const defaultMaxAttempts = 3

// RetryPolicy decides how long a task waits between attempts. The ladder
// is indexed by the attempt that just failed; attempts past the end of
// the ladder reuse its last rung, so delays never decrease.
type RetryPolicy struct {
	delays      []time.Duration
	maxAttempts int
}

// NewRetryPolicy builds a policy from a delay ladder and a default
// attempt limit. The ladder must be non-empty, positive, and
// non-decreasing.
func NewRetryPolicy(delays []time.Duration, maxAttempts int) (RetryPolicy, error) {
	if len(delays) == 0 {
		return RetryPolicy{}, fmt.Errorf("retry policy requires at least one delay")
	}
	if maxAttempts < 1 {
		return RetryPolicy{}, fmt.Errorf("retry policy requires max attempts >= 1, got %d", maxAttempts)
	}

	for i, delay := range delays {
		if delay <= 0 {
			return RetryPolicy{}, fmt.Errorf("retry delay %d must be positive, got %v", i, delay)
		}
		if i > 0 && delay < delays[i-1] {
			return RetryPolicy{}, fmt.Errorf(
				"retry delays must be non-decreasing, delay %d (%v) < delay %d (%v)",
				i, delay, i-1, delays[i-1])
		}
	}

	copied := make([]time.Duration, len(delays))
	copy(copied, delays)

	return RetryPolicy{
		delays:      copied,
		maxAttempts: maxAttempts,
	}, nil
}

// DefaultRetryPolicy returns the stock ladder with the stock attempt limit.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		delays:      defaultRetryDelays,
		maxAttempts: defaultMaxAttempts,
	}
}

// MaxAttempts returns the default attempt limit for tasks that do not
// carry their own.
func (p RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the wait after the given failed attempt (1-based). An
// attempt past the end of the ladder gets the last rung.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	index := attempt - 1
	if index >= len(p.delays) {
		index = len(p.delays) - 1
	}
	return p.delays[index]
}

// NextAttemptAt returns the earliest time the task may run again after the
// given failed attempt.
func (p RetryPolicy) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
