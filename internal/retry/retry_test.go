package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessOnRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	var calls int
	sentinel := errors.New("always fails")
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	var calls int
	sentinel := errors.New("permanent failure")
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (permanent error should stop retries), got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	go func() {
		// Cancel after first attempt has time to run.
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Should have run 1-2 times before context cancelled during sleep.
	if c := calls.Load(); c > 3 {
		t.Fatalf("expected at most 3 calls, got %d", c)
	}
}

func TestDo_ZeroMaxAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (0 rounds up to 1), got %d", calls)
	}
}

func TestDo_BackoffIncreases(t *testing.T) {
	var timestamps []time.Time
	err := Do(context.Background(), 4, 20*time.Millisecond, func() error {
		timestamps = append(timestamps, time.Now())
		if len(timestamps) < 4 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(timestamps) != 4 {
		t.Fatalf("expected 4 timestamps, got %d", len(timestamps))
	}

	// Verify delays grow (approximately): 20ms, 40ms, 80ms
	// Allow generous jitter tolerance.
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < 5*time.Millisecond {
			t.Errorf("gap %d too short: %v", i, gap)
		}
	}
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := Permanent(inner)
	if !errors.Is(pe, inner) {
		t.Fatal("Permanent error should unwrap to inner error")
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain error should not be permanent")
	}
	if !IsPermanent(fmt.Errorf("wrapped: %w", Permanent(errors.New("550 mailbox unavailable")))) {
		t.Fatal("wrapped permanent error should be detected")
	}
}

func TestPolicy_OnRetryReportsAttempts(t *testing.T) {
	var (
		seen  []int
		waits []time.Duration
	)
	p := Policy{
		Attempts:  3,
		BaseDelay: 8 * time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			seen = append(seen, attempt)
			waits = append(waits, wait)
		},
	}

	err := p.Do(context.Background(), func(context.Context) error { return errors.New("smtp: 421 try later") })
	if err == nil {
		t.Fatal("expected final error")
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected retries after attempts 1 and 2, got %v", seen)
	}
	// 8ms +-25%, then 16ms +-25%
	if waits[0] < 6*time.Millisecond || waits[0] > 10*time.Millisecond {
		t.Errorf("first wait out of range: %v", waits[0])
	}
	if waits[1] < 12*time.Millisecond || waits[1] > 20*time.Millisecond {
		t.Errorf("second wait out of range: %v", waits[1])
	}
}

func TestPolicy_MaxDelayCapsBackoff(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		Attempts:  4,
		BaseDelay: 4 * time.Millisecond,
		MaxDelay:  4 * time.Millisecond,
		OnRetry:   func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) },
	}

	_ = p.Do(context.Background(), func(context.Context) error { return errors.New("fail") })
	if len(waits) != 3 {
		t.Fatalf("expected 3 waits, got %d", len(waits))
	}
	for i, w := range waits {
		if w > 5*time.Millisecond {
			t.Errorf("wait %d exceeded cap: %v", i, w)
		}
	}
}

func TestPolicy_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tenant-1")

	err := Policy{Attempts: 1}.Do(ctx, func(got context.Context) error {
		if got.Value(key{}) != "tenant-1" {
			return errors.New("context not propagated")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
