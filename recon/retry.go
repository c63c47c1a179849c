package recon

import (
	"context"
	"time"
)

// retry runs fn up to attempts times, waiting backoff * attemptNumber
// between failures (linear, not exponential). Every failure is retried
// identically — the policy does not inspect causes, because sources are
// independent and a wasted retry costs only latency. The last error is
// returned after exhaustion. Waits respect ctx cancellation.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := backoff * time.Duration(attempt)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}
	return lastErr
}
