// Package lbprobe computes the jittered re-probe interval for an
// unhealthy host. The actual scheduling is left to the caller's injected
// clock: this package never sleeps or starts timers itself.
package lbprobe

import (
	"math/rand/v2"
	"time"
)

// JitterBackOff yields interval+uniform(0, jitter) every time it is asked
// for the next delay, forever. A quarantined host is always worth
// re-probing, so there is no concept of permanent failure here.
type JitterBackOff struct {
	Interval time.Duration
	Jitter   time.Duration
}

// NextBackOff returns the next probe delay. It is safe for concurrent use:
// each call draws from the package-level per-goroutine random source, never
// a shared *rand.Rand (see math/rand/v2's default source, which is
// itself safe for concurrent use, unlike a hand-rolled math/rand.Rand).
func (b *JitterBackOff) NextBackOff() (time.Duration, error) {
	if b.Jitter <= 0 {
		return b.Interval, nil
	}
	return b.Interval + time.Duration(rand.Int64N(int64(b.Jitter)+1)), nil
}

// Reset is part of the backoff.BackOff contract; the jittered-constant
// strategy is stateless, so Reset is a no-op.
func (b *JitterBackOff) Reset() {}
