// Package resilience provides small, dependency-free building blocks for
// fault handling: a bounded exponential-backoff retry helper and a
// rate-limit cooldown gate.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default retry parameters.
const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
)

// Retry invokes fn up to attempts times, sleeping between failures with an
// exponential backoff that starts at baseDelay and doubles per attempt,
// capped at 30 s. It returns nil on the first success, the last error after
// the final attempt, or the context error if ctx is cancelled while waiting.
//
// Zero or negative attempts/baseDelay fall back to defaults (3 attempts,
// 500 ms base).
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > defaultMaxDelay {
			delay = defaultMaxDelay
		}
	}
	return fmt.Errorf("resilience: all %d attempts failed: %w", attempts, lastErr)
}
