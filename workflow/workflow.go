// Package workflow defines workflow definitions and their triggers, runs,
// per-step state, the Workflow execution context, and the Runner that
// replays a run's handler against its persisted step state.
package workflow

import (
	"encoding/json"
	"fmt"
)

// HandlerFunc is a workflow body. It calls Step, StepResult and Sleep on
// wf and returns the run output, which must be JSON-serializable.
type HandlerFunc func(wf *Workflow) (any, error)

// Trigger starts a run, either when an event named Event is received
// (optionally filtered by the If expression) or on a cron schedule.
type Trigger struct {
	Event string `json:"event,omitempty"`
	If    string `json:"if,omitempty"`
	Cron  string `json:"cron,omitempty"`
}

// OnEvent triggers on every event with the given name.
func OnEvent(name string) Trigger { return Trigger{Event: name} }

// OnCron triggers on a cron schedule such as "0 */2 * * *" or "@every 1m".
func OnCron(schedule string) Trigger { return Trigger{Cron: schedule} }

// Where adds a boolean filter over {event: {name, data}}, for example
// `event.data.total > 100`.
func (t Trigger) Where(expr string) Trigger {
	t.If = expr
	return t
}

// Definition describes a workflow. ID must be unique within a Registry.
type Definition struct {
	ID       string
	Name     string
	Triggers []Trigger

	// Retries is the number of extra attempts per step. Zero uses the
	// engine default; a negative value disables retries.
	Retries int

	// Concurrency caps how many runs of this workflow execute at once on
	// one engine. Zero means no cap.
	Concurrency int

	// RateLimit caps executions per second on one engine. Zero means no cap.
	RateLimit float64

	Handler HandlerFunc
}

// MaxAttempts returns how many times one step may be invoked.
func (d *Definition) MaxAttempts(defaultRetries int) int {
	switch {
	case d.Retries < 0:
		return 1
	case d.Retries == 0:
		return defaultRetries + 1
	default:
		return d.Retries + 1
	}
}

// Input decodes the payload of the run's triggering event into T.
func Input[T any](wf *Workflow) (T, error) {
	var v T
	if len(wf.run.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(wf.run.Payload, &v); err != nil {
		return v, fmt.Errorf("workflow %s: decode input: %w", wf.run.WorkflowID, err)
	}
	return v, nil
}
