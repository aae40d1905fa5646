// package throttle bounds the rate of calls issued to one provider backend.
package throttle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttler is a token bucket allowing n acquisitions per period, with a burst of n.
//
// Callers block in [Throttler.Wait] until a slot frees up; requests are delayed, never dropped.
// A Throttler is safe for concurrent use and is shared by every call made through one adapter instance.
type Throttler struct {
	limiter *rate.Limiter
	n       int
	period  time.Duration
}

// New creates a Throttler allowing n calls per period. A non-positive n or period disables limiting.
func New(n int, period time.Duration) *Throttler {
	if n <= 0 || period <= 0 {
		return &Throttler{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Throttler{
		limiter: rate.NewLimiter(rate.Every(period/time.Duration(n)), n),
		n:       n,
		period:  period,
	}
}

// Wait blocks until a slot is available or ctx is done.
func (t *Throttler) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}

// String describes the configured rate, e.g. "4/1s".
func (t *Throttler) String() string {
	if t == nil || t.n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", t.n, t.period)
}
