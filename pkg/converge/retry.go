package converge

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy governs how long to wait for a target service to become ready
// before a convergence pass starts. Convergence itself never retries; only
// the readiness wait does.
type RetryPolicy struct {
	// Attempts is the maximum number of readiness probes.
	Attempts int

	// Interval is the pause between probes.
	Interval time.Duration
}

// DefaultRetryPolicy waits up to two minutes in five-second steps.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 24,
		Interval: 5 * time.Second,
	}
}

// WaitReady probes until ready returns true, the attempts run out, or the
// context is cancelled.
func (p RetryPolicy) WaitReady(ctx context.Context, ready func(ctx context.Context) (bool, error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Interval):
			}
		}

		ok, err := ready(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
	}

	if lastErr != nil {
		return fmt.Errorf("not ready after %d attempts: %w", attempts, lastErr)
	}
	return fmt.Errorf("not ready after %d attempts", attempts)
}
