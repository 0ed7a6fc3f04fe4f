// Package retry implements capped exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes delays that double per attempt up to Max
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool // randomize each delay within [d/2, d]
}

// Delay returns the wait before retry number attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter && d > 1 {
		half := d / 2
		d = half + rand.N(half+1)
	}
	return d
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
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

// Do calls fn up to attempts times, sleeping between calls while
// retryable(err) holds. Returns the last error.
func Do(ctx context.Context, attempts int, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || !retryable(err) {
			return err
		}
		if serr := Sleep(ctx, b.Delay(attempt)); serr != nil {
			return err
		}
	}
}
