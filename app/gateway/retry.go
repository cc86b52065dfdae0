package gateway

import (
	"context"
	"time"
)

// RetryPolicy retries an operation with exponential backoff: the delay
// starts at BaseDelay, doubles on every failed attempt and is capped at
// MaxDelay. Non-retryable errors abort immediately; on exhaustion the last
// error is returned as-is.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	return p
}

func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	p = p.withDefaults()

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt >= p.MaxAttempts {
			return lastErr
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
