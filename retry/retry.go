// Package retry decides what happens after a step fails: run it again
// after a delay, or give up and fail the run.
package retry

import (
	"errors"
	"time"
)

// Action is the outcome kind of a Decision.
type Action int

const (
	// ActionRetry schedules another attempt after Decision.Delay.
	ActionRetry Action = iota + 1
	// ActionAbort fails the run with Decision.Err.
	ActionAbort
)

// Decision is returned by Coordinator.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
	Err    error
}

// RetryAfter builds a retry decision.
func RetryAfter(d time.Duration) Decision { return Decision{Action: ActionRetry, Delay: d} }

// Abort builds an abort decision carrying the terminal error.
func Abort(err error) Decision { return Decision{Action: ActionAbort, Err: err} }

// Coordinator maps a failed attempt to a Decision. It holds no per-run
// state: the attempt count is read from and persisted to the step record
// by the caller.
type Coordinator struct {
	backoff Backoff
}

// NewCoordinator returns a Coordinator using b, or DefaultBackoff when b
// is nil.
func NewCoordinator(b Backoff) *Coordinator {
	if b == nil {
		b = DefaultBackoff()
	}
	return &Coordinator{backoff: b}
}

// Decide returns RetryAfter while attempts < maxAttempts and err is
// retriable, otherwise Abort(err). attempts counts invocations so far,
// including the one that just failed.
func (c *Coordinator) Decide(attempts, maxAttempts int, err error) Decision {
	if IsPermanent(err) || attempts >= maxAttempts {
		return Abort(err)
	}
	return RetryAfter(c.backoff.Delay(attempts))
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Decide aborts without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
