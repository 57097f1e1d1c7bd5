package scryfall

import (
	"context"
	"sync"
	"time"
)

// RetryPolicy controls how transient failures are retried. Rate-limit
// responses are handled separately and never consume an attempt.
type RetryPolicy struct {
	// MaxAttempts is the total request budget, including the first try.
	MaxAttempts int

	// Delay returns how long to wait before retrying after the given
	// 1-based failed attempt.
	Delay func(attempt int) time.Duration
}

// LinearDelay returns a delay function growing by unit per attempt
// (unit, 2×unit, 3×unit, ...).
func LinearDelay(unit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// DefaultRetryPolicy matches the remote source's documented tolerances:
// 3 attempts with linearly increasing one-second delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       LinearDelay(time.Second),
	}
}

// throttle enforces a minimum spacing between outbound requests. The state is
// shared by every caller of one Client, so the spacing holds globally across
// concurrent resolver and sync traffic.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{
		interval: interval,
		now:      time.Now,
	}
}

// wait blocks until the caller's reserved departure slot. Slots are handed
// out under the lock so no two requests can depart closer together than the
// interval, regardless of which goroutine issued them.
func (t *throttle) wait(ctx context.Context) error {
	if t.interval <= 0 {
		return nil
	}

	t.mu.Lock()
	now := t.now()
	slot := t.last.Add(t.interval)
	if slot.Before(now) {
		slot = now
	}
	t.last = slot
	t.mu.Unlock()

	if d := slot.Sub(now); d > 0 {
		return sleep(ctx, d)
	}
	return nil
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
