package core

import (
	"fmt"
	"sync/atomic"
)

// DispatchLimiter caps the number of dispatches of one propagation run. A
// max of 0 leaves the run unbounded. It is safe for concurrent use.
type DispatchLimiter struct {
	max   int64
	count atomic.Int64
}

// NewDispatchLimiter returns a limiter allowing max dispatches.
func NewDispatchLimiter(max int) *DispatchLimiter {
	return &DispatchLimiter{max: int64(max)}
}

// Increment accounts for one more dispatch. The dispatch exceeding the limit
// gets an error wrapping ErrDispatchLimit, as does every later one.
func (dl *DispatchLimiter) Increment() error {
	n := dl.count.Add(1)
	if dl.max > 0 && n > dl.max {
		return fmt.Errorf("%w: %d", ErrDispatchLimit, dl.max)
	}
	return nil
}

// Count returns the number of dispatches accounted so far, rejected ones included.
func (dl *DispatchLimiter) Count() int { return int(dl.count.Load()) }

// Remaining returns the dispatches left before the limit, or -1 for an
// unbounded run.
func (dl *DispatchLimiter) Remaining() int {
	if dl.max == 0 {
		return -1
	}
	return int(max(dl.max-dl.count.Load(), 0))
}
