// Package fixed provides a manually advanced clock for tests.
package fixed

import (
	"sync"
	"time"
)

// Clock returns a fixed instant until advanced.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New creates a Clock frozen at now.
func New(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

// Now returns the frozen instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
