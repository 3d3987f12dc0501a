package outbox

import "time"

// Backoff computes the delay before the next delivery attempt.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at one second and caps at ten minutes.
var DefaultBackoff = Backoff{Base: time.Second, Max: 10 * time.Minute}

// Delay returns Base * 2^(attempts-1), capped at Max.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
