// Package retryx implements exponential backoff with jitter, grounded
// on nugget-thane-ai-agent's connwatch.BackoffConfig schedule
// (InitialDelay, MaxDelay, Multiplier), extended with a jitter fraction
// per spec §7 ("exponential backoff with jitter").
package retryx

import (
	"math/rand"
	"time"
)

// Backoff describes an exponential-with-jitter delay schedule.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Multiplier scales the delay after each attempt (default 2.0 if zero).
	Multiplier float64
	// Jitter is the +/- fraction of randomness applied to each delay
	// (e.g. 0.2 for +/-20%). Zero disables jitter.
	Jitter float64
}

// Default returns the schedule used by the command router's
// operational-error retries: 500ms, 1s, 2s, ... capped at 10s, +/-20% jitter.
func Default() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2.0, Jitter: 0.2}
}

// Flat returns a small, non-growing schedule suitable for protocol-
// directed retries that aren't really "backing off" from a failure
// (e.g. the HTTP domain-redirect retry in httpapi).
func Flat(delay time.Duration) Backoff {
	return Backoff{Initial: delay, Max: delay, Multiplier: 1, Jitter: 0.1}
}

// Next returns the delay to use before the given attempt (1-indexed:
// attempt 1 is the delay before the first retry).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if max := float64(b.Max); max > 0 && d > max {
		d = max
	}
	if b.Jitter > 0 {
		delta := d * b.Jitter
		d += (rand.Float64()*2 - 1) * delta
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}
