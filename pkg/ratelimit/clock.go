package ratelimit

import "time"

// Clock abstracts time so limiters can be driven by a simulated clock in tests.
type Clock interface {
	Now() time.Time
	// NewTimer returns a channel that fires after d and a stop function
	// releasing the timer early.
	NewTimer(d time.Duration) (<-chan time.Time, func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}
