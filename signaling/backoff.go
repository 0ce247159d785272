package signaling

import (
	"math"
	"time"
)

// Backoff computes exponential reconnect delays.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before the given reconnect attempt, starting at 1.
// The delay never exceeds Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
