package provider

import "time"

// Backoff computes the delay before the next poll attempt after a failure:
// exponential growth from Initial up to Max, reset on success.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	current time.Duration
}

// DefaultBackoff matches the reference provider: 1s growing by 1.5x up to
// 10s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        10 * time.Second,
		Multiplier: 1.5,
	}
}

// Next returns the delay to sleep before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
		return b.current
	}
	next := time.Duration(float64(b.current) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	b.current = next
	return b.current
}

// Reset restarts the schedule after a successful attempt.
func (b *Backoff) Reset() {
	b.current = 0
}
