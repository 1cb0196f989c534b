// Package functions holds the example workflows served by the orquesta
// binary: a basic notification, order processing with retries, a
// periodic report, and a user onboarding sequence with sleeps.
package functions

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/orquesta/orquesta/telegram"
	"github.com/orquesta/orquesta/workflow"
)

// Sender delivers a Markdown message. *telegram.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, text string) (telegram.Delivery, error)
}

// Random is the source of the simulated payment outcome and report
// figures. *rand.Rand satisfies it.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// Option configures a Set.
type Option func(*Set)

// WithRandom replaces the random source.
func WithRandom(r Random) Option {
	return func(s *Set) { s.rand = r }
}

// WithClock replaces time.Now for timestamps in outputs and messages.
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// WithOnboardingDelay sets the pause between onboarding messages.
func WithOnboardingDelay(d time.Duration) Option {
	return func(s *Set) { s.onboardingDelay = d }
}

// Set builds the example workflow definitions around one sender.
type Set struct {
	sender          Sender
	rand            Random
	now             func() time.Time
	onboardingDelay time.Duration
}

// New returns a Set that sends through sender.
func New(sender Sender, opts ...Option) *Set {
	s := &Set{
		sender:          sender,
		rand:            globalRand{},
		now:             time.Now,
		onboardingDelay: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Definitions returns every example workflow.
func (s *Set) Definitions() []*workflow.Definition {
	return []*workflow.Definition{
		s.NotificacionBasica(),
		s.ProcesarPedido(),
		s.ReportePeriodico(),
		s.OnboardingUsuario(),
	}
}

// All is shorthand for New(sender, opts...).Definitions().
func All(sender Sender, opts ...Option) []*workflow.Definition {
	return New(sender, opts...).Definitions()
}

// localTime formats t the way the messages show dates to users, in the
// Spanish locale: day, month and hour without zero padding.
func localTime(t time.Time) string {
	return fmt.Sprintf("%s, %d:%s", t.Format("2/1/2006"), t.Hour(), t.Format("04:05"))
}

func isoTime(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z07:00") }
