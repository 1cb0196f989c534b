package functions

import (
	"context"
	"fmt"

	"github.com/orquesta/orquesta/workflow"
)

// ReporteSchedule runs the periodic report every two hours.
const ReporteSchedule = "0 */2 * * *"

// Reporte is the generated report and the output of the run.
type Reporte struct {
	Timestamp         string `json:"timestamp"`
	UsuariosActivos   int    `json:"usuariosActivos"`
	PedidosProcesados int    `json:"pedidosProcesados"`
	ErroresTotales    int    `json:"erroresTotales"`
}

// ReportePeriodico generates simulated figures and posts them to Telegram.
func (s *Set) ReportePeriodico() *workflow.Definition {
	return &workflow.Definition{
		ID:       "reporte-periodico",
		Name:     "Reporte Periódico",
		Triggers: []workflow.Trigger{workflow.OnCron(ReporteSchedule)},
		Handler: func(wf *workflow.Workflow) (any, error) {
			reporte, err := workflow.StepResult(wf, "generar-reporte", func(context.Context) (Reporte, error) {
				return Reporte{
					Timestamp:         isoTime(s.now()),
					UsuariosActivos:   50 + s.rand.IntN(100),
					PedidosProcesados: 5 + s.rand.IntN(20),
					ErroresTotales:    s.rand.IntN(3),
				}, nil
			})
			if err != nil {
				return nil, err
			}

			err = wf.Step("enviar-reporte-telegram", func(ctx context.Context) error {
				text := fmt.Sprintf("📊 *Reporte Periódico*\n\n🕐 %s\n\n👥 Usuarios activos: %d\n📦 Pedidos procesados: %d\n⚠️  Errores: %d",
					localTime(s.now()), reporte.UsuariosActivos, reporte.PedidosProcesados, reporte.ErroresTotales)
				_, err := s.sender.Send(ctx, text)
				return err
			})
			if err != nil {
				return nil, err
			}

			return reporte, nil
		},
	}
}
