package functions

import (
	"context"

	"github.com/orquesta/orquesta/workflow"
)

// Event names accepted by the example workflows.
const (
	EventNotificacion = "notificacion/enviar"
	EventPedido       = "pedido/procesar"
	EventUsuario      = "usuario/registro"
)

// NotificacionInput is the payload of notificacion/enviar.
type NotificacionInput struct {
	Mensaje string `json:"mensaje"`
}

// NotificacionResult is the output of notificacion-basica.
type NotificacionResult struct {
	Enviado           bool   `json:"enviado"`
	Mensaje           string `json:"mensaje"`
	TelegramMessageID string `json:"telegramMessageId"`
}

// NotificacionBasica forwards the event message to Telegram in one step.
func (s *Set) NotificacionBasica() *workflow.Definition {
	return &workflow.Definition{
		ID:       "notificacion-basica",
		Name:     "Notificación Básica",
		Triggers: []workflow.Trigger{workflow.OnEvent(EventNotificacion)},
		Handler: func(wf *workflow.Workflow) (any, error) {
			in, err := workflow.Input[NotificacionInput](wf)
			if err != nil {
				return nil, err
			}

			msgID, err := workflow.StepResult(wf, "enviar-mensaje-telegram", func(ctx context.Context) (string, error) {
				d, err := s.sender.Send(ctx, "📬 *Notificación Básica*\n\n"+in.Mensaje)
				return d.MessageID, err
			})
			if err != nil {
				return nil, err
			}

			return NotificacionResult{Enviado: true, Mensaje: in.Mensaje, TelegramMessageID: msgID}, nil
		},
	}
}
