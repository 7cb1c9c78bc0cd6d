package changefeed

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy decides when a failed delivery is retried and when it is
// given up on. Delays are persisted as next_attempt_at on the delivery row,
// so the policy only computes them; nothing sleeps on it.
type BackoffPolicy struct {
	// Base is the delay after the first failure.
	Base time.Duration
	// Max caps the delay.
	Max time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// DefaultBackoff retries for roughly ten minutes before parking a delivery.
var DefaultBackoff = BackoffPolicy{
	Base:        500 * time.Millisecond,
	Max:         2 * time.Minute,
	MaxAttempts: 10,
}

// Delay returns the wait after the given failed attempt (1-based):
// min(Base * 2^(attempt-1), Max). The sequence is an unjittered
// exponential backoff, replayed from the start for each attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := p.exponential()
	d := b.NextBackOff()
	for i := 1; i < attempt && d < p.Max; i++ {
		d = b.NextBackOff()
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func (p BackoffPolicy) exponential() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Exhausted reports whether no attempt remains after the given number of
// attempts.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = DefaultBackoff.Base
	}
	if p.Max <= 0 {
		p.Max = DefaultBackoff.Max
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultBackoff.MaxAttempts
	}
	return p
}
