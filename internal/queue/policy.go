package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how failed remote applies are rescheduled.
type RetryPolicy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
	// Jitter spreads each delay uniformly over +/- Jitter of its value.
	Jitter float64
	// MaxUnknownAttempts escalates a mutation to fatal after this many
	// consecutive Unknown failures. Zero disables escalation.
	MaxUnknownAttempts int
	// Rand returns values in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy is 2s base, doubling, capped at 30s, 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:               2 * time.Second,
		Multiplier:         2,
		Cap:                30 * time.Second,
		Jitter:             0.2,
		MaxUnknownAttempts: 8,
	}
}

// Delay returns the wait before the next attempt of a mutation that has
// already failed retryCount times. It never exceeds Cap.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	d := float64(p.Base) * math.Pow(multiplier, float64(retryCount-1))
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if p.Jitter > 0 {
		random := p.Rand
		if random == nil {
			random = rand.Float64
		}
		d *= 1 + p.Jitter*(2*random()-1)
	}
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p RetryPolicy) escalates(unknownFailures int) bool {
	return p.MaxUnknownAttempts > 0 && unknownFailures >= p.MaxUnknownAttempts
}
