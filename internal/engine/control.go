package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCancelled is the cause recorded when a transfer is stopped by Cancel
// or by context cancellation.
var ErrCancelled = errors.New("download cancelled")

// pausePollInterval is how often a paused worker re-checks the flags.
const pausePollInterval = 100 * time.Millisecond

// control holds the batch-wide pause and cancel flags. Both are cooperative:
// workers observe them at defined poll points, never preemptively.
type control struct {
	paused    atomic.Bool
	cancelled atomic.Bool
}

func (c *control) pause()  { c.paused.Store(true) }
func (c *control) resume() { c.paused.Store(false) }
func (c *control) cancel() { c.cancelled.Store(true) }

func (c *control) isCancelled() bool { return c.cancelled.Load() }

// checkpoint is the poll point: it returns ErrCancelled when the batch is
// cancelled (by flag or context) and otherwise blocks while paused.
func (c *control) checkpoint(ctx context.Context) error {
	for {
		if c.cancelled.Load() || ctx.Err() != nil {
			return ErrCancelled
		}
		if !c.paused.Load() {
			return nil
		}
		timer := time.NewTimer(pausePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrCancelled
		case <-timer.C:
		}
	}
}
