// Package event provides the event bus: it records named events and hands
// each one to the dispatcher that starts the matching workflow runs.
package event

import (
	"encoding/json"
	"time"

	"github.com/orquesta/orquesta/id"
)

// Event is an immutable, named occurrence with a JSON payload.
type Event struct {
	ID        id.EventID      `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
