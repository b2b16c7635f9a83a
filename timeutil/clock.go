package timeutil

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts the time source so certificate-lifetime checks and
// retry sleeps can be driven deterministically in tests.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
	// Since measures elapsed wall time.
	Since(t time.Time) time.Duration
	// Sleep waits for d, returning early with ctx.Err() on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// UTCClock is the system clock normalized to UTC.
type UTCClock struct{}

func (UTCClock) Now() time.Time                  { return time.Now().UTC() }
func (UTCClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (UTCClock) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// FrozenClock is a fixed time with manual advancement, for unit tests.
type FrozenClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewFrozenClock(t time.Time) *FrozenClock {
	return &FrozenClock{t: t.UTC()}
}

func (c *FrozenClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *FrozenClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep on a frozen clock waits real time. Unit tests that care about
// determinism pass d=0 or cancel ctx.
func (c *FrozenClock) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (c *FrozenClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

func (c *FrozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Default is the process-wide clock (UTC).
var Default Clock = UTCClock{}

// Now is shorthand for Default.Now().
func Now() time.Time { return Default.Now() }
