package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orquesta/orquesta/workflow"
)

// ErrPagoSimulado is the simulated payment failure.
var ErrPagoSimulado = errors.New("Error simulado en procesamiento de pago")

// PedidoRef is an order ID. Clients send it as a JSON string or number;
// a number keeps its literal text.
type PedidoRef string

// UnmarshalJSON accepts a string or a number.
func (r *PedidoRef) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = PedidoRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("pedidoId must be a string or a number: %w", err)
	}
	*r = PedidoRef(n)
	return nil
}

// PedidoInput is the payload of pedido/procesar.
type PedidoInput struct {
	PedidoID PedidoRef `json:"pedidoId"`
	Items    []string  `json:"items"`
}

// Pago is the result of the payment step and the output of the run.
type Pago struct {
	PedidoID  string `json:"pedidoId"`
	Estado    string `json:"estado"`
	Timestamp string `json:"timestamp"`
}

// pagoThreshold is the draw a payment attempt must exceed to succeed.
const pagoThreshold = 0.7

// ProcesarPedido charges an order, failing at random, then confirms it
// over Telegram. Each step gets up to five retries.
func (s *Set) ProcesarPedido() *workflow.Definition {
	return &workflow.Definition{
		ID:       "procesar-pedido",
		Name:     "Procesar Pedido",
		Triggers: []workflow.Trigger{workflow.OnEvent(EventPedido)},
		Retries:  5,
		Handler: func(wf *workflow.Workflow) (any, error) {
			in, err := workflow.Input[PedidoInput](wf)
			if err != nil {
				return nil, err
			}

			pago, err := workflow.StepResult(wf, "procesar-pago", func(context.Context) (Pago, error) {
				wf.Logger().Info("procesando pago", slog.String("pedido_id", string(in.PedidoID)))
				if s.rand.Float64() <= pagoThreshold {
					return Pago{}, ErrPagoSimulado
				}
				return Pago{PedidoID: string(in.PedidoID), Estado: "procesado", Timestamp: isoTime(s.now())}, nil
			})
			if err != nil {
				return nil, err
			}

			err = wf.Step("enviar-confirmacion", func(ctx context.Context) error {
				text := fmt.Sprintf("✅ *Pedido Procesado*\n\nID: %s\nItems: %s\nEstado: %s\nFecha: %s",
					in.PedidoID, strings.Join(in.Items, ", "), pago.Estado, localTime(s.paidAt(pago)))
				_, err := s.sender.Send(ctx, text)
				return err
			})
			if err != nil {
				return nil, err
			}

			return pago, nil
		},
	}
}

// paidAt is the memoized payment time, shown in the clock's zone. A
// timestamp that does not parse falls back to now.
func (s *Set) paidAt(p Pago) time.Time {
	now := s.now()
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return now
	}
	return t.In(now.Location())
}
