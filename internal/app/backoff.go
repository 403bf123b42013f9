package app

import (
	"math/rand"
	"time"
)

// DefaultBackoffMax caps the delay between redrains of retained failures.
const DefaultBackoffMax = 60 * time.Second

// backoff implements exponential backoff with jitter. It only computes
// delays; the caller schedules them on its clock.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
	jitter  func() float64
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
		jitter:  rand.Float64,
	}
}

// Next returns the current delay with ±20% jitter and doubles it.
func (b *backoff) Next() time.Duration {
	jitter := float64(b.current) * 0.2 * (b.jitter()*2 - 1)
	d := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset restarts the sequence from initial.
func (b *backoff) Reset(initial time.Duration) {
	if initial > 0 {
		b.initial = initial
	}
	b.current = b.initial
}

// Current returns the current backoff duration.
func (b *backoff) Current() time.Duration {
	return b.current
}
