// Package stream fans engine lifecycle events out to live subscribers.
// The Broker is an ext extension; subscribers pick topics such as one
// run, one workflow, or everything.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventStepCompleted EventType = "run.step_completed"
	EventStepFailed    EventType = "run.step_failed"
	EventRunRetrying   EventType = "run.retrying"
	EventRunSleeping   EventType = "run.sleeping"
	EventRunCompleted  EventType = "run.completed"
	EventRunFailed     EventType = "run.failed"
	EventRunCancelled  EventType = "run.cancelled"

	EventReceived  EventType = "event.received"
	EventCronFired EventType = "cron.fired"
)

// Terminal reports whether no later event follows for the same run.
func (t EventType) Terminal() bool {
	return t == EventRunCompleted || t == EventRunFailed || t == EventRunCancelled
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`

	// topics is where the event is published; it is not serialized.
	topics []string
}

// RunEventData is the payload of run.* events.
type RunEventData struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	State      string `json:"state"`
	StepName   string `json:"step_name,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	At         string `json:"at,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReceivedEventData is the payload of event.received.
type ReceivedEventData struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
}

// CronEventData is the payload of cron.fired.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	RunID     string `json:"run_id,omitempty"`
}
