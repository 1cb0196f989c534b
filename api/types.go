package api

import (
	"time"

	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/functions"
	"github.com/orquesta/orquesta/queue"
	"github.com/orquesta/orquesta/stream"
	"github.com/orquesta/orquesta/worker"
	"github.com/orquesta/orquesta/workflow"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Detalle string `json:"detalle,omitempty"`
}

// InfoResponse describes the service and its public endpoints.
type InfoResponse struct {
	Nombre      string            `json:"nombre"`
	Descripcion string            `json:"descripcion"`
	Endpoints   map[string]string `json:"endpoints"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ChatInfo is one chat found in the bot's recent updates.
type ChatInfo struct {
	ChatID   *int64 `json:"chatId,omitempty"`
	Nombre   string `json:"nombre,omitempty"`
	Username string `json:"username,omitempty"`
	Mensaje  string `json:"mensaje,omitempty"`
}

// ChatIDResponse is returned by GET /api/obtener-chat-id. Instrucciones is
// a list when there are no updates and a single sentence otherwise.
type ChatIDResponse struct {
	Mensaje       string     `json:"mensaje"`
	Datos         []ChatInfo `json:"datos,omitempty"`
	Instrucciones any        `json:"instrucciones"`
}

// EventAck acknowledges an accepted event. The run outcome is not
// awaited.
type EventAck struct {
	Mensaje  string   `json:"mensaje"`
	Evento   string   `json:"evento"`
	PedidoID string   `json:"pedidoId,omitempty"`
	Usuario  string   `json:"usuario,omitempty"`
	EventID  string   `json:"eventId"`
	RunIDs   []string `json:"runIds"`
}

// NotificarRequest is the body of POST /api/notificar.
type NotificarRequest struct {
	Mensaje string `json:"mensaje"`
}

// ProcesarPedidoRequest is the body of POST /api/procesar-pedido.
// PedidoID may arrive as a string or a number.
type ProcesarPedidoRequest struct {
	PedidoID functions.PedidoRef `json:"pedidoId"`
	Items    []string            `json:"items"`
}

// UsuarioNuevoRequest is the body of POST /api/usuario-nuevo.
type UsuarioNuevoRequest struct {
	Nombre string `json:"nombre"`
	Email  string `json:"email"`
}

// SendEventRequest is the body of POST /v1/events.
type SendEventRequest struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// WorkflowSummary describes one registered workflow.
type WorkflowSummary struct {
	ID       string             `json:"id"`
	Name     string             `json:"name,omitempty"`
	Triggers []workflow.Trigger `json:"triggers"`
	Retries  int                `json:"retries"`
}

// RunDetail is a run with its step states.
type RunDetail struct {
	*workflow.Run
	Steps []*workflow.Checkpoint `json:"steps"`
}

// JobCountsResponse holds job counts by state.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retrying  int64 `json:"retrying"`
	Cancelled int64 `json:"cancelled"`
}

// RunCounts holds run counts by state.
type RunCounts struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Sleeping  int `json:"sleeping"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// StatsResponse aggregates engine state.
type StatsResponse struct {
	Jobs     JobCountsResponse `json:"jobs"`
	Runs     RunCounts         `json:"runs"`
	DLQCount int64             `json:"dlq_count"`
	Workers  []*cluster.Worker `json:"workers"`
	Pool     worker.PoolStats  `json:"pool"`
	// Admission lists the queue and workflow limits in force.
	Admission []queue.Usage       `json:"admission"`
	Stream    *stream.BrokerStats `json:"stream,omitempty"`
	At        time.Time           `json:"at"`
}

// PurgeDLQResponse reports how many DLQ entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse holds the DLQ size.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// pageQuery is the common limit/offset query string.
type pageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

const maxLimit = 500

// limit clamps the requested page size to (0, maxLimit], defaulting to 50.
func (q pageQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return 50
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}
