package page

import (
	"context"
	"time"
)

const defaultInterval = 250 * time.Millisecond

// Condition is polled by WaitFor. Errors count as "not yet".
type Condition func(ctx context.Context) (bool, error)

// WaitFor polls cond until it holds, timeout elapses or ctx is done. It
// resolves (false, nil) on timeout and returns ctx.Err() on cancellation.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond Condition) (bool, error) {
	if interval <= 0 {
		interval = defaultInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ok, err := cond(ctx); err == nil && ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// WaitForSelector waits until selector matches a visible element.
func WaitForSelector(ctx context.Context, p Page, selector string, timeout time.Duration) (bool, error) {
	return WaitFor(ctx, timeout, defaultInterval, func(ctx context.Context) (bool, error) {
		return p.Exists(ctx, selector)
	})
}
