package retry_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orquesta/orquesta/retry"
)

func TestConstant(t *testing.T) {
	c := retry.Constant{Interval: 5 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestLinear_CapsAtMax(t *testing.T) {
	l := retry.Linear{Initial: time.Second, Max: 5 * time.Second}
	if got := l.Delay(3); got != 3*time.Second {
		t.Errorf("Delay(3) = %v, want 3s", got)
	}
	if got := l.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %v, want 5s", got)
	}
}

func TestExponential(t *testing.T) {
	e := retry.Exponential{Initial: time.Second, Max: time.Hour}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := (retry.Exponential{Initial: time.Second, Max: time.Minute}).Delay(40); got != time.Minute {
		t.Errorf("Delay(40) = %v, want cap 1m", got)
	}
}

func TestJittered_WithinBounds(t *testing.T) {
	j := retry.Jittered{Initial: 100 * time.Millisecond, Max: time.Second}
	for i := 0; i < 100; i++ {
		got := j.Delay(3)
		if got < 0 || got > 400*time.Millisecond {
			t.Fatalf("Delay(3) = %v, want within [0, 400ms]", got)
		}
	}
}

func TestDecide_RetriesUntilMaxAttempts(t *testing.T) {
	c := retry.NewCoordinator(retry.Constant{Interval: time.Second})
	boom := errors.New("boom")

	for attempts := 1; attempts < 4; attempts++ {
		d := c.Decide(attempts, 4, boom)
		if d.Action != retry.ActionRetry {
			t.Fatalf("attempt %d: action = %v, want retry", attempts, d.Action)
		}
		if d.Delay != time.Second {
			t.Errorf("attempt %d: delay = %v, want 1s", attempts, d.Delay)
		}
	}

	d := c.Decide(4, 4, boom)
	if d.Action != retry.ActionAbort {
		t.Fatalf("action = %v, want abort", d.Action)
	}
	if !errors.Is(d.Err, boom) {
		t.Errorf("Err = %v, want %v", d.Err, boom)
	}
}

func TestDecide_PermanentAbortsImmediately(t *testing.T) {
	c := retry.NewCoordinator(nil)
	err := fmt.Errorf("wrapped: %w", retry.Permanent(errors.New("bad input")))

	d := c.Decide(1, 10, err)
	if d.Action != retry.ActionAbort {
		t.Fatalf("action = %v, want abort", d.Action)
	}
	if !retry.IsPermanent(d.Err) {
		t.Error("expected the abort error to stay permanent")
	}
}

func TestPermanent_Nil(t *testing.T) {
	if retry.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
