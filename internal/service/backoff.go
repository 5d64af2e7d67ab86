package service

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays: Base doubled (by Factor) per
// failed attempt, capped at Cap, with optional jitter in [50%, 100%].
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Jitter bool
	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

func NewBackoff(base, maxDelay time.Duration) *Backoff {
	return &Backoff{
		Base:   base,
		Cap:    maxDelay,
		Factor: 2,
		Jitter: true,
	}
}

// Duration returns the delay to wait after the given failed attempt
// (1-based).
func (b *Backoff) Duration(attempt int) time.Duration {
	if attempt <= 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}

	// Without a cap the delay still has to fit in a Duration.
	limit := float64(math.MaxInt64)
	if b.Cap > 0 {
		limit = float64(b.Cap)
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if d > limit {
		d = limit
	}

	if b.Jitter {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		d *= 0.5 + r()*0.5
	}
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
