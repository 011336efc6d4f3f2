package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a bounded, fixed-delay retry policy. Both the database fetch and
// the chat delivery wrap their calls in the same combinator.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// RetryIf decides whether a failure is worth another attempt. Nil retries
	// every failure kind up to the attempt bound.
	RetryIf func(error) bool
}

// Do runs op up to p.Attempts times, sleeping p.Delay between attempts. The
// sleep observes ctx so a shutdown is never blocked by a pending retry.
// onFailure, when non-nil, is invoked after every failed attempt, including
// the last one.
func Do(ctx context.Context, p Policy, op func(context.Context) error, onFailure func(attempt int, err error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", p.Attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
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
