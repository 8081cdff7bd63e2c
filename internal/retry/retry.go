package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy wraps downstream calls (store, email, Discord REST) with
// bounded retries, exponential backoff, and a per-attempt timeout. The
// parameters live in configuration rather than at call sites so failure
// injection stays testable.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration
	Sleep     func(time.Duration) // overridable in tests
}

func NewPolicy(attempts int, baseDelay, timeout time.Duration) *Policy {
	if attempts < 1 {
		attempts = 1
	}
	return &Policy{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		Timeout:   timeout,
		Sleep:     time.Sleep,
	}
}

// Do runs fn up to Attempts times, doubling the delay between attempts.
// Each attempt gets its own deadline-bound context. The last error is
// returned when every attempt fails; the caller decides whether that is
// transient or fatal.
func (p *Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.Attempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if p.Sleep != nil && delay > 0 {
			p.Sleep(delay)
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, p.Attempts, lastErr)
}
