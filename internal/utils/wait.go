package utils

import (
	"context"
	"math/rand/v2"
	"time"
)

var sleep = time.Sleep

// WaitFor blocks for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	pause := sleep
	done := make(chan struct{})
	go func() {
		defer close(done)
		pause(d)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Pace waits for base plus up to 50% random jitter, emulating human pacing between UI actions.
func Pace(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	return WaitFor(ctx, base+jitter)
}
