package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before retry attempt n (1-indexed: attempt 1
// follows the first failure). Implementations are stateless.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to Backoff.
type BackoffFunc func(attempt int) time.Duration

// Delay calls f.
func (f BackoffFunc) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval on every attempt.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Initial*attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential waits Initial*2^(attempt-1), capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	return capAt(exponential(e.Initial, attempt), e.Max)
}

// Jittered applies full jitter over an exponential base: the delay is
// uniform in [0, min(Initial*2^(attempt-1), Max)].
type Jittered struct {
	Initial time.Duration
	Max     time.Duration
}

func (j Jittered) Delay(attempt int) time.Duration {
	base := capAt(exponential(j.Initial, attempt), j.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter only
}

// DefaultBackoff is jittered exponential from 1s up to 1m.
func DefaultBackoff() Backoff {
	return Jittered{Initial: time.Second, Max: time.Minute}
}

func exponential(initial time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(initial) * math.Pow(2, float64(attempt-1))
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
