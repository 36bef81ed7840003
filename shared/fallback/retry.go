package fallback

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
)

// Executor wraps a single remote call with bounded exponential-backoff retry.
// Only transient errors are retried; everything else is returned immediately
// without consuming an attempt budget. The executor knows nothing about the
// model/style fallback above it.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs op, retrying transient failures up to MaxAttempts total attempts with
// a BaseDelay * 2^attempt wait between them.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := e.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if Classify(err) != ClassTransient {
			return err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}

		delay := baseDelay << attempt
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
