package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/ext"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.RunStarted    = (*MetricsExtension)(nil)
	_ ext.StepFailed    = (*MetricsExtension)(nil)
	_ ext.RunRetrying   = (*MetricsExtension)(nil)
	_ ext.RunSleeping   = (*MetricsExtension)(nil)
	_ ext.RunCompleted  = (*MetricsExtension)(nil)
	_ ext.RunFailed     = (*MetricsExtension)(nil)
	_ ext.RunCancelled  = (*MetricsExtension)(nil)
	_ ext.EventReceived = (*MetricsExtension)(nil)
	_ ext.CronFired     = (*MetricsExtension)(nil)
)

const meterName = "github.com/orquesta/orquesta/observability"

// MetricsExtension records system-wide lifecycle metrics as OpenTelemetry
// instruments. Run counters carry a workflow attribute.
type MetricsExtension struct {
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	stepFails   metric.Int64Counter
	parked      metric.Int64Counter
	events      metric.Int64Counter
	cronFired   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the API returns noop instruments.
	runs, _ := meter.Int64Counter("orquesta.run.transitions",
		metric.WithDescription("Run lifecycle transitions by state"),
		metric.WithUnit("{run}"),
	)
	runDuration, _ := meter.Float64Histogram("orquesta.run.duration",
		metric.WithDescription("Wall time from first execution to completion"),
		metric.WithUnit("s"),
	)
	stepFails, _ := meter.Int64Counter("orquesta.step.failures",
		metric.WithDescription("Failed step attempts"),
		metric.WithUnit("{attempt}"),
	)
	parked, _ := meter.Int64Counter("orquesta.run.parked",
		metric.WithDescription("Times a run was parked for a retry or a sleep"),
		metric.WithUnit("{park}"),
	)
	events, _ := meter.Int64Counter("orquesta.event.received",
		metric.WithDescription("Events accepted by the bus"),
		metric.WithUnit("{event}"),
	)
	cronFired, _ := meter.Int64Counter("orquesta.cron.fired",
		metric.WithDescription("Cron ticks that started a run"),
		metric.WithUnit("{tick}"),
	)
	return &MetricsExtension{
		runs:        runs,
		runDuration: runDuration,
		stepFails:   stepFails,
		parked:      parked,
		events:      events,
		cronFired:   cronFired,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) transition(ctx context.Context, r *workflow.Run, state string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", r.WorkflowID),
		attribute.String("state", state),
	))
}

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	m.transition(ctx, r, "started")
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, r *workflow.Run, stepName string, _ int, _ error) error {
	m.stepFails.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", r.WorkflowID),
		attribute.String("step", stepName),
	))
	return nil
}

// OnRunRetrying implements ext.RunRetrying.
func (m *MetricsExtension) OnRunRetrying(ctx context.Context, r *workflow.Run, _ string, _ int, _ time.Time) error {
	m.parked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", r.WorkflowID),
		attribute.String("reason", "retry"),
	))
	return nil
}

// OnRunSleeping implements ext.RunSleeping.
func (m *MetricsExtension) OnRunSleeping(ctx context.Context, r *workflow.Run, _ string, _ time.Time) error {
	m.parked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", r.WorkflowID),
		attribute.String("reason", "sleep"),
	))
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.transition(ctx, r, "completed")
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("workflow", r.WorkflowID),
	))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.transition(ctx, r, "failed")
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(ctx context.Context, r *workflow.Run) error {
	m.transition(ctx, r, "cancelled")
	return nil
}

// OnEventReceived implements ext.EventReceived.
func (m *MetricsExtension) OnEventReceived(ctx context.Context, evt *event.Event) error {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", evt.Name)))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.RunID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cron", entryName)))
	return nil
}
