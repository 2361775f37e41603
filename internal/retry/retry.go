// Package retry runs operations with bounded attempts and backoff between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Backoff yields the pause before the next attempt. attempt starts at 0 for the
// pause after the first failure.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles (or multiplies by Multiplier) the pause after each failure.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e Exponential) Delay(attempt int) time.Duration {
	m := e.Multiplier
	if m <= 0 {
		m = 2
	}
	d := float64(e.Initial) * math.Pow(m, float64(attempt))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	return time.Duration(d)
}

// Linear grows the pause by Step per failure: Step, 2*Step, 3*Step...
type Linear struct {
	Step time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	return l.Step * time.Duration(attempt+1)
}

// Config bounds a retried operation.
type Config struct {
	// Attempts is the total number of tries for ordinary failures, including the first.
	Attempts int
	Backoff  Backoff
	// Jitter in [0,1] randomizes each pause by up to that fraction.
	Jitter float64
	// Immediate caps retries for errors marked with Immediate; they do not sleep
	// and do not consume Attempts.
	Immediate int
	OnRetry   func(attempt int, err error)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type immediateError struct{ err error }

func (i *immediateError) Error() string { return i.err.Error() }
func (i *immediateError) Unwrap() error { return i.err }

// Immediate marks err as retryable right away, for example after switching credentials.
func Immediate(err error) error {
	if err == nil {
		return nil
	}
	return &immediateError{err: err}
}

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Do calls op until it succeeds, returns a Permanent error, the context ends or
// the attempt budget runs out.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.Attempts, 1)

	failures, immediates := 0, 0
	for try := 0; ; try++ {
		res, err := op(ctx, try)
		if err == nil {
			return res, nil
		}
		if IsPermanent(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", ctx.Err(), err)
		}

		var imm *immediateError
		if errors.As(err, &imm) {
			if immediates >= cfg.Immediate {
				return zero, fmt.Errorf("%w after %d immediate retries: %w", ErrExhausted, immediates, err)
			}
			immediates++
			if cfg.OnRetry != nil {
				cfg.OnRetry(try, err)
			}
			continue
		}

		failures++
		if failures >= attempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, failures, err)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(try, err)
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = jitter(cfg.Backoff.Delay(failures-1), cfg.Jitter)
		}
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
}

func jitter(d time.Duration, j float64) time.Duration {
	if j <= 0 || d <= 0 {
		return d
	}
	if j > 1 {
		j = 1
	}
	f := 1 + j*(rand.Float64()*2-1)
	return time.Duration(float64(d) * f)
}
