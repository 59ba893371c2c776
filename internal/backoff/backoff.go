package backoff

import (
	"math/rand"
	"time"
)

const (
	// DefaultBase is the delay after the first failure.
	DefaultBase = 2 * time.Second
	// DefaultCap bounds the exponential growth.
	DefaultCap = 5 * time.Minute
	// jitterFraction is the upper bound of the random jitter, as a
	// fraction of the computed delay. Spreads reconnects across hosts so
	// a shared outage does not produce a thundering herd.
	jitterFraction = 0.25
)

// Policy computes retry delays from consecutive failure counts. The zero
// value is not usable; construct with New.
type Policy struct {
	Base time.Duration
	Cap  time.Duration

	// Rand returns a float64 in [0, 1). Injected for tests; defaults to
	// the shared math/rand source.
	Rand func() float64
}

// New returns a Policy with the given base and cap, substituting defaults
// for non-positive values.
func New(base, limit time.Duration) Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if limit <= 0 {
		limit = DefaultCap
	}
	return Policy{Base: base, Cap: limit, Rand: rand.Float64}
}

// Delay returns the wait before retry number failures (1 = first retry).
// The pre-jitter delay is min(base * 2^(failures-1), cap), so it is
// non-decreasing in the failure count and resets to base after a success
// resets the count.
func (p Policy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	d := p.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			d = p.Cap
			break
		}
	}
	if d > p.Cap {
		d = p.Cap
	}

	return d + p.jitter(d)
}

func (p Policy) jitter(d time.Duration) time.Duration {
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	return time.Duration(r() * jitterFraction * float64(d))
}
