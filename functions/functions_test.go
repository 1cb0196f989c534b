package functions_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/engine"
	"github.com/orquesta/orquesta/functions"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/retry"
	"github.com/orquesta/orquesta/store/memory"
	"github.com/orquesta/orquesta/telegram"
	"github.com/orquesta/orquesta/workflow"
)

var fixedNow = time.Date(2026, 10, 18, 14, 5, 3, 0, time.UTC)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSender) Send(_ context.Context, text string) (telegram.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return telegram.Delivery{OK: true, MessageID: "42"}, nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// scriptedRand returns draws in order, repeating the last one.
type scriptedRand struct {
	mu     sync.Mutex
	floats []float64
	calls  int
	n      int
}

func (r *scriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.floats) {
		i = len(r.floats) - 1
	}
	r.calls++
	return r.floats[i]
}

func (r *scriptedRand) IntN(int) int { return r.n }

func (r *scriptedRand) draws() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newEngine(t *testing.T, sender functions.Sender, opts ...functions.Option) *engine.Engine {
	t.Helper()
	cfg := orquesta.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.HeartbeatInterval = 0
	cfg.StaleJobThreshold = 0
	cfg.CronTickInterval = time.Hour

	eng, err := engine.New(memory.New(),
		engine.WithConfig(cfg),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithBackoff(retry.Constant{Interval: 5 * time.Millisecond}),
	)
	require.NoError(t, err)

	opts = append([]functions.Option{functions.WithClock(func() time.Time { return fixedNow })}, opts...)
	require.NoError(t, eng.Register(functions.All(sender, opts...)...))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}

func send(t *testing.T, eng *engine.Engine, name string, payload any) id.RunID {
	t.Helper()
	_, runIDs, err := eng.SendJSON(context.Background(), name, payload)
	require.NoError(t, err)
	require.Len(t, runIDs, 1)
	return runIDs[0]
}

func waitForTerminal(t *testing.T, eng *engine.Engine, runID id.RunID) *workflow.Run {
	t.Helper()
	var run *workflow.Run
	require.Eventually(t, func() bool {
		got, err := eng.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = got
		return run.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return run
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestNotificacionBasica_DemoMode(t *testing.T) {
	demo := telegram.New("", "", telegram.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	eng := newEngine(t, demo)

	run := waitForTerminal(t, eng, send(t, eng, functions.EventNotificacion, map[string]string{"mensaje": "hola"}))

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, functions.NotificacionResult{
		Enviado:           true,
		Mensaje:           "hola",
		TelegramMessageID: telegram.DemoMessageID,
	}, decode[functions.NotificacionResult](t, run.Output))
}

func TestNotificacionBasica_MessageText(t *testing.T) {
	sender := &recordingSender{}
	eng := newEngine(t, sender)

	run := waitForTerminal(t, eng, send(t, eng, functions.EventNotificacion, map[string]string{"mensaje": "hola"}))

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, []string{"📬 *Notificación Básica*\n\nhola"}, sender.sent())
	assert.Equal(t, "42", decode[functions.NotificacionResult](t, run.Output).TelegramMessageID)
}

func TestProcesarPedido_PaymentAlwaysFails(t *testing.T) {
	sender := &recordingSender{}
	rnd := &scriptedRand{floats: []float64{0.1}}
	eng := newEngine(t, sender, functions.WithRandom(rnd))

	run := waitForTerminal(t, eng, send(t, eng, functions.EventPedido, map[string]any{
		"pedidoId": "123",
		"items":    []string{"a", "b"},
	}))

	require.Equal(t, workflow.RunStateFailed, run.State)
	assert.Equal(t, functions.ErrPagoSimulado.Error(), run.Error)
	assert.Equal(t, "procesar-pago", run.FailedStep)
	assert.Equal(t, 6, rnd.draws(), "one attempt plus five retries")
	assert.Empty(t, sender.sent())
}

func TestProcesarPedido_SucceedsAfterRetries(t *testing.T) {
	sender := &recordingSender{}
	rnd := &scriptedRand{floats: []float64{0.2, 0.7, 0.95}}
	eng := newEngine(t, sender, functions.WithRandom(rnd))

	runID := send(t, eng, functions.EventPedido, map[string]any{"pedidoId": "123", "items": []string{"a", "b"}})
	run := waitForTerminal(t, eng, runID)

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, functions.Pago{
		PedidoID:  "123",
		Estado:    "procesado",
		Timestamp: "2026-10-18T14:05:03.000Z",
	}, decode[functions.Pago](t, run.Output))
	assert.Equal(t, 3, rnd.draws())
	assert.Equal(t, []string{
		"✅ *Pedido Procesado*\n\nID: 123\nItems: a, b\nEstado: procesado\nFecha: 18/10/2026, 14:05:03",
	}, sender.sent())

	steps, err := eng.Steps(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 3, steps[0].Attempts)
	assert.Equal(t, 1, steps[1].Attempts)
}

func TestProcesarPedido_NumericPedidoID(t *testing.T) {
	sender := &recordingSender{}
	eng := newEngine(t, sender, functions.WithRandom(&scriptedRand{floats: []float64{0.95}}))

	runID := send(t, eng, functions.EventPedido, map[string]any{"pedidoId": 123, "items": []string{"a"}})
	run := waitForTerminal(t, eng, runID)

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, "123", decode[functions.Pago](t, run.Output).PedidoID)
	require.Len(t, sender.sent(), 1)
	assert.Contains(t, sender.sent()[0], "ID: 123\n")
}

// The confirmation shows when the payment was recorded, even when the
// confirmation step runs later.
func TestProcesarPedido_ConfirmationUsesPaymentTime(t *testing.T) {
	paidAt := time.Date(2026, 10, 5, 9, 5, 3, 0, time.UTC)
	var (
		mu    sync.Mutex
		calls int
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return paidAt.Add(time.Duration(calls-1) * time.Hour)
	}

	sender := &recordingSender{}
	eng := newEngine(t, sender,
		functions.WithClock(clock),
		functions.WithRandom(&scriptedRand{floats: []float64{0.95}}),
	)

	runID := send(t, eng, functions.EventPedido, map[string]any{"pedidoId": "77", "items": []string{"x"}})
	run := waitForTerminal(t, eng, runID)

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, "2026-10-05T09:05:03.000Z", decode[functions.Pago](t, run.Output).Timestamp)
	assert.Equal(t, []string{
		"✅ *Pedido Procesado*\n\nID: 77\nItems: x\nEstado: procesado\nFecha: 5/10/2026, 9:05:03",
	}, sender.sent())
}

func TestReportePeriodico(t *testing.T) {
	sender := &recordingSender{}
	eng := newEngine(t, sender, functions.WithRandom(&scriptedRand{floats: []float64{0}, n: 2}))

	run, err := eng.Runner().StartCron(context.Background(), "reporte-periodico", functions.ReporteSchedule, fixedNow, "reporte@test")
	require.NoError(t, err)
	run = waitForTerminal(t, eng, run.ID)

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, functions.Reporte{
		Timestamp:         "2026-10-18T14:05:03.000Z",
		UsuariosActivos:   52,
		PedidosProcesados: 7,
		ErroresTotales:    2,
	}, decode[functions.Reporte](t, run.Output))
	assert.Equal(t, []string{
		"📊 *Reporte Periódico*\n\n🕐 18/10/2026, 14:05:03\n\n👥 Usuarios activos: 52\n📦 Pedidos procesados: 7\n⚠️  Errores: 2",
	}, sender.sent())
}

func TestOnboardingUsuario(t *testing.T) {
	sender := &recordingSender{}
	eng := newEngine(t, sender, functions.WithOnboardingDelay(30*time.Millisecond))

	runID := send(t, eng, functions.EventUsuario, map[string]string{"nombre": "Ana", "email": "ana@example.com"})
	run := waitForTerminal(t, eng, runID)

	require.Equal(t, workflow.RunStateCompleted, run.State)
	assert.Equal(t, functions.OnboardingResult{
		Usuario:              "Ana",
		Email:                "ana@example.com",
		OnboardingCompletado: true,
		Pasos:                5,
	}, decode[functions.OnboardingResult](t, run.Output))

	texts := sender.sent()
	require.Len(t, texts, 3, "memoized steps must not resend after a sleep")
	assert.Contains(t, texts[0], "¡Bienvenido Ana!")
	assert.Contains(t, texts[0], "ana@example.com")
	assert.Contains(t, texts[1], "Configura tu Perfil")
	assert.Contains(t, texts[2], "Tips de Uso")

	steps, err := eng.Steps(context.Background(), runID)
	require.NoError(t, err)
	var names []string
	for _, s := range steps {
		names = append(names, s.StepName)
	}
	assert.Equal(t, []string{
		"enviar-bienvenida",
		"espera-inicial",
		"enviar-recordatorio-configuracion",
		"espera-tips",
		"enviar-tips",
	}, names)
}

func TestDefinitionsRegister(t *testing.T) {
	defs := functions.All(&recordingSender{})
	reg := workflow.NewRegistry()
	for _, d := range defs {
		require.NoError(t, reg.Register(d), d.ID)
	}
	assert.Equal(t, 6, defs[1].MaxAttempts(3))
}
