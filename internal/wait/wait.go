// Package wait provides context-aware sleeps and bounded polling with an
// injectable clock, so settle delays can be skipped in tests.
package wait

import (
	"context"
	"sync"
	"time"
)

// Clock sleeps for d or until ctx is done.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on wall time.
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RecordingClock returns immediately and remembers every requested sleep.
type RecordingClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *RecordingClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

// Sleeps returns a copy of the recorded durations in call order.
func (c *RecordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Total is the sum of all recorded sleeps.
func (c *RecordingClock) Total() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}

// Poll evaluates cond up to attempts times, sleeping interval between
// attempts. It returns true as soon as cond does, false once attempts are
// exhausted, and ctx.Err() if the context ends first.
func Poll(ctx context.Context, clock Clock, interval time.Duration, attempts int, cond func(context.Context) bool) (bool, error) {
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if cond(ctx) {
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
	return false, nil
}
