// Package clock provides the simulated timeline the lock controller runs on.
// Simulated time advances with the wall clock on every tick but can also be
// skipped forward, so hours-long locks can be exercised instantly.
package clock

import "time"

// Sim is a monotonic simulated clock. It is not safe for concurrent use; the
// controller's owner goroutine is its only caller.
type Sim struct {
	now      time.Time
	lastWall time.Time
}

// New creates a Sim whose timeline starts at epoch. The first Tick only
// records the wall sample and does not advance time.
func New(epoch time.Time) *Sim {
	return &Sim{now: epoch}
}

// Now returns the current simulated instant.
func (c *Sim) Now() time.Time {
	return c.now
}

// Tick advances simulated time by the wall-clock delta since the previous
// tick. Negative deltas (wall clock stepped backwards) are clamped to zero.
// Returns the applied delta.
func (c *Sim) Tick(wall time.Time) time.Duration {
	if c.lastWall.IsZero() {
		c.lastWall = wall
		return 0
	}
	delta := wall.Sub(c.lastWall)
	if delta < 0 {
		delta = 0
	}
	c.now = c.now.Add(delta)
	c.lastWall = wall
	return delta
}

// Skip moves simulated time forward by d without touching the wall sample.
// Non-positive values are ignored.
func (c *Sim) Skip(d time.Duration) {
	if d <= 0 {
		return
	}
	c.now = c.now.Add(d)
}
