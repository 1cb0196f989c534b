package functions

import (
	"context"
	"fmt"

	"github.com/orquesta/orquesta/workflow"
)

// UsuarioInput is the payload of usuario/registro.
type UsuarioInput struct {
	Nombre string `json:"nombre"`
	Email  string `json:"email"`
}

// OnboardingResult is the output of onboarding-usuario.
type OnboardingResult struct {
	Usuario              string `json:"usuario"`
	Email                string `json:"email"`
	OnboardingCompletado bool   `json:"onboardingCompletado"`
	Pasos                int    `json:"pasos"`
}

// OnboardingUsuario sends a welcome message, a profile reminder and usage
// tips, pausing between each.
func (s *Set) OnboardingUsuario() *workflow.Definition {
	return &workflow.Definition{
		ID:       "onboarding-usuario",
		Name:     "Onboarding de Usuario",
		Triggers: []workflow.Trigger{workflow.OnEvent(EventUsuario)},
		Handler: func(wf *workflow.Workflow) (any, error) {
			in, err := workflow.Input[UsuarioInput](wf)
			if err != nil {
				return nil, err
			}

			send := func(name, text string) error {
				return wf.Step(name, func(ctx context.Context) error {
					_, err := s.sender.Send(ctx, text)
					return err
				})
			}

			if err := send("enviar-bienvenida", fmt.Sprintf(
				"👋 *¡Bienvenido %s!*\n\nGracias por registrarte con el email: %s\n\nEn los próximos minutos recibirás más información.",
				in.Nombre, in.Email)); err != nil {
				return nil, err
			}
			if err := wf.Sleep("espera-inicial", s.onboardingDelay); err != nil {
				return nil, err
			}
			if err := send("enviar-recordatorio-configuracion", fmt.Sprintf(
				"⚙️  *Configura tu Perfil*\n\nHola %s,\n\nNo olvides completar tu perfil para aprovechar todas las funcionalidades.",
				in.Nombre)); err != nil {
				return nil, err
			}
			if err := wf.Sleep("espera-tips", s.onboardingDelay); err != nil {
				return nil, err
			}
			if err := send("enviar-tips",
				"💡 *Tips de Uso*\n\n• Explora el dashboard\n• Configura tus notificaciones\n• Invita a tus compañeros\n\n¡Que disfrutes la plataforma!"); err != nil {
				return nil, err
			}

			return OnboardingResult{Usuario: in.Nombre, Email: in.Email, OnboardingCompletado: true, Pasos: 5}, nil
		},
	}
}
