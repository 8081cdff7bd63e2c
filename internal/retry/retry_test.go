package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 0)
	p.Sleep = func(time.Duration) { t.Fatal("should not sleep on first-attempt success") }

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := NewPolicy(3, 10*time.Millisecond, 0)
	var delays []time.Duration
	p.Sleep = func(d time.Duration) { delays = append(delays, d) }

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	// backoff doubles between attempts
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff delays: %v", delays)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := NewPolicy(2, 0, 0)
	p.Sleep = func(time.Duration) {}

	sentinel := errors.New("store unavailable")
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	p := NewPolicy(5, time.Millisecond, 0)
	p.Sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	p := NewPolicy(1, 0, 10*time.Millisecond)

	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
