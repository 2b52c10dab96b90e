// Package schedule provides the time sources the reconciliation engine
// depends on: a Clock for timestamps and waits, and a Ticker that drives
// periodic polling. Both have manual implementations so suppression expiry,
// cooldowns, and retry backoff are testable without wall-clock sleeps.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for the engine.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ManualClock is a Clock whose time only moves when told to.
// Sleep advances the clock by the requested duration and returns
// immediately, recording the duration so tests can assert on backoff.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep records d and advances the clock without blocking.
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Sleeps returns every duration passed to Sleep, in call order.
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Expiring is a set of keys that each expire at a fixed instant. Expired
// keys are dropped on the next read; there is no early removal.
// Expiring is not safe for concurrent use.
type Expiring struct {
	clock Clock
	until map[string]time.Time
}

// NewExpiring returns an empty set bound to clock.
func NewExpiring(clock Clock) *Expiring {
	return &Expiring{clock: clock, until: make(map[string]time.Time)}
}

// Add inserts key until now+ttl. Re-adding extends the deadline.
func (e *Expiring) Add(key string, ttl time.Duration) {
	deadline := e.clock.Now().Add(ttl)
	if cur, ok := e.until[key]; ok && cur.After(deadline) {
		return
	}
	e.until[key] = deadline
}

// Has reports whether key is present and unexpired.
func (e *Expiring) Has(key string) bool {
	e.prune()
	_, ok := e.until[key]
	return ok
}

// Keys returns the unexpired keys, sorted.
func (e *Expiring) Keys() []string {
	e.prune()
	keys := make([]string, 0, len(e.until))
	for k := range e.until {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Expiring) prune() {
	now := e.clock.Now()
	for k, deadline := range e.until {
		if !now.Before(deadline) {
			delete(e.until, k)
		}
	}
}
