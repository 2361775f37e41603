package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces sequential operations at a fixed interval, incorporating optional jitter.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	lim      *rate.Limiter
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
}

// NewLimiter creates a limiter that lets one operation through per interval.
// Jitter must be between 0.0 and 1.0. If interval is <= 0, the limiter does not block.
func NewLimiter(interval time.Duration, jitter float64) *Limiter {
	if interval <= 0 {
		return &Limiter{jitter: jitter}
	}

	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}

	return &Limiter{
		lim:      rate.NewLimiter(rate.Every(interval), 1),
		jitter:   jitter,
		interval: interval,
	}
}

// Wait blocks until it is time to perform the next operation, or until the
// context is canceled. It applies jitter to the sleep time if configured.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.lim == nil {
		return nil
	}

	if err := l.lim.Wait(ctx); err != nil {
		return err
	}

	if l.jitter > 0 {
		// Positive jitter only; the underlying limiter already enforces the minimum spacing.
		extra := time.Duration(float64(l.interval) * l.jitter * rand.Float64())
		if extra > 0 {
			t := time.NewTimer(extra)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Interval returns the configured spacing between operations.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
