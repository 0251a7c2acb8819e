// Package rate provides the shared adaptive request delay used to pace all
// outbound remote calls.
package rate

import (
	"context"
	"sync"
	"time"
)

// Controller holds a single mutable delay shared by every worker in a
// scraping session. The delay decays toward the base value on success and
// grows multiplicatively on failure. It is a pacing heuristic, not a
// bandwidth limiter: callers sleep for the current delay before each
// outbound request.
type Controller struct {
	base       time.Duration
	max        time.Duration
	multiplier float64

	mu    sync.Mutex
	delay time.Duration
}

// New creates a Controller with the given bounds. The delay starts at base
// and is always kept within [base, max].
func New(base, max time.Duration, multiplier float64) *Controller {
	return &Controller{
		base:       base,
		max:        max,
		multiplier: multiplier,
		delay:      base,
	}
}

// Wait sleeps for the current delay before an outbound call. It returns the
// context error if the caller is cancelled mid-sleep.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.delay
	c.mu.Unlock()

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

// Success decays the delay toward the base value.
func (c *Controller) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delay = time.Duration(float64(c.delay) / 1.1)
	if c.delay < c.base {
		c.delay = c.base
	}
}

// Failure grows the delay multiplicatively, bounded by max.
func (c *Controller) Failure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delay = time.Duration(float64(c.delay) * c.multiplier)
	if c.delay > c.max {
		c.delay = c.max
	}
}

// RateLimited applies the stronger rate-limit penalty: the delay is doubled
// (bounded by max) and the caller sleeps for the new delay immediately,
// before any retry.
func (c *Controller) RateLimited(ctx context.Context) error {
	c.mu.Lock()
	c.delay *= 2
	if c.delay > c.max {
		c.delay = c.max
	}
	d := c.delay
	c.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay returns the current delay value.
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// Reset restores the delay to the base value.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = c.base
}
