package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket admits at most max acquisitions in any rolling period.
//
// Tokens refill continuously at max/period up to a burst of max, which smooths
// bursts while allowing sustained throughput. A log of the last max grant times
// enforces the hard rolling-window ceiling that a bare token bucket would exceed
// right after a full refill.
type Bucket struct {
	mu     sync.Mutex
	clock  Clock
	max    int
	period time.Duration
	tokens *rate.Limiter
	grants []time.Time // ring buffer of the most recent grant times
	next   int
	filled int
}

// NewBucket returns a Bucket allowing max acquisitions per period.
// A nil clock uses the system clock. max <= 0 or period <= 0 disables limiting.
func NewBucket(max int, period time.Duration, clock Clock) *Bucket {
	if clock == nil {
		clock = SystemClock
	}
	b := &Bucket{clock: clock, max: max, period: period}
	if max > 0 && period > 0 {
		every := period / time.Duration(max)
		b.tokens = rate.NewLimiter(rate.Every(every), max)
		// A fresh limiter starts full; pin its timestamp to the injected clock.
		b.tokens.SetBurstAt(clock.Now(), max)
		b.grants = make([]time.Time, max)
	}
	return b
}

// TryAcquire takes a slot if one is available now. When it returns false,
// the duration is how long the caller should wait before trying again.
func (b *Bucket) TryAcquire() (bool, time.Duration) {
	if b.tokens == nil {
		return true, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()

	if b.filled == b.max {
		oldest := b.grants[b.next]
		if release := oldest.Add(b.period); now.Before(release) {
			return false, release.Sub(now)
		}
	}

	r := b.tokens.ReserveN(now, 1)
	if !r.OK() {
		return false, b.period
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}

	b.grants[b.next] = now
	b.next = (b.next + 1) % b.max
	if b.filled < b.max {
		b.filled++
	}
	return true, 0
}

// Wait blocks until a slot is acquired or the context is canceled.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		ok, wait := b.TryAcquire()
		if ok {
			return nil
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (b *Bucket) sleep(ctx context.Context, d time.Duration) error {
	c, stop := b.clock.NewTimer(d)
	defer stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c:
		return nil
	}
}
