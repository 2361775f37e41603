package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Config{Attempts: 3, Backoff: Linear{Step: time.Millisecond}},
		func(ctx context.Context, attempt int) (string, error) {
			calls++
			if attempt < 2 {
				return "", errBoom
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{Attempts: 3}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errBoom
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, errBoom) {
		t.Fatalf("expected exhausted wrapping boom, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{Attempts: 5}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(errBoom)
	})
	if !errors.Is(err, errBoom) || !IsPermanent(err) {
		t.Fatalf("expected permanent boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should stop after one call, got %d", calls)
	}
}

func TestDo_ImmediateDoesNotConsumeAttempts(t *testing.T) {
	calls := 0
	start := time.Now()
	got, err := Do(context.Background(),
		Config{Attempts: 2, Immediate: 3, Backoff: Exponential{Initial: time.Hour}},
		func(ctx context.Context, attempt int) (int, error) {
			calls++
			if calls <= 3 {
				return 0, Immediate(errBoom)
			}
			return 7, nil
		})
	if err != nil || got != 7 {
		t.Fatalf("got %d, %v", got, err)
	}
	if time.Since(start) > time.Second {
		t.Error("immediate retries must not sleep")
	}
}

func TestDo_ImmediateBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{Attempts: 3, Immediate: 2}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Immediate(errBoom)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 1 call plus 2 immediate retries, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, Config{Attempts: 3, Backoff: Exponential{Initial: time.Hour}},
		func(ctx context.Context, attempt int) (int, error) { return 0, errBoom })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExponential(t *testing.T) {
	b := Exponential{Initial: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := b.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestLinear(t *testing.T) {
	b := Linear{Step: time.Second}
	if b.Delay(0) != time.Second || b.Delay(2) != 3*time.Second {
		t.Errorf("unexpected linear delays %v %v", b.Delay(0), b.Delay(2))
	}
}
