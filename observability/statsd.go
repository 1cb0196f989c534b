package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/ext"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

var (
	_ ext.RunStarted    = (*StatsdExtension)(nil)
	_ ext.StepFailed    = (*StatsdExtension)(nil)
	_ ext.RunCompleted  = (*StatsdExtension)(nil)
	_ ext.RunFailed     = (*StatsdExtension)(nil)
	_ ext.RunCancelled  = (*StatsdExtension)(nil)
	_ ext.EventReceived = (*StatsdExtension)(nil)
	_ ext.CronFired     = (*StatsdExtension)(nil)
)

// Metric names sent by StatsdExtension.
const (
	StatsdRunCount      = "orquesta.run.count"
	StatsdRunLatency    = "orquesta.run.latency"
	StatsdStepFailures  = "orquesta.step.failures"
	StatsdEventReceived = "orquesta.event.received"
	StatsdCronFired     = "orquesta.cron.fired"
)

// StatsdExtension sends lifecycle metrics to a DogStatsD agent.
type StatsdExtension struct {
	client statsd.ClientInterface
	rate   float64
	logger *slog.Logger
}

// NewStatsdExtension dials a DogStatsD agent at addr. globalTags are
// attached to every metric.
func NewStatsdExtension(addr string, globalTags []string, logger *slog.Logger) (*StatsdExtension, error) {
	client, err := statsd.New(addr,
		statsd.WithNamespace(""),
		statsd.WithTags(globalTags),
	)
	if err != nil {
		return nil, err
	}
	return NewStatsdExtensionWithClient(client, logger), nil
}

// NewStatsdExtensionWithClient wraps an existing client.
func NewStatsdExtensionWithClient(client statsd.ClientInterface, logger *slog.Logger) *StatsdExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsdExtension{client: client, rate: 1, logger: logger}
}

// Name implements ext.Extension.
func (s *StatsdExtension) Name() string { return "observability-statsd" }

// Close flushes and closes the client.
func (s *StatsdExtension) Close() error { return s.client.Close() }

func (s *StatsdExtension) count(name string, tags []string) {
	if err := s.client.Incr(name, tags, s.rate); err != nil {
		s.logger.Warn("statsd count failed", slog.String("metric", name), slog.String("error", err.Error()))
	}
}

func runTags(r *workflow.Run, state string) []string {
	return []string{"workflow:" + r.WorkflowID, "state:" + state}
}

// OnRunStarted implements ext.RunStarted.
func (s *StatsdExtension) OnRunStarted(_ context.Context, r *workflow.Run) error {
	s.count(StatsdRunCount, runTags(r, "started"))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (s *StatsdExtension) OnStepFailed(_ context.Context, r *workflow.Run, stepName string, _ int, _ error) error {
	s.count(StatsdStepFailures, []string{"workflow:" + r.WorkflowID, "step:" + stepName})
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (s *StatsdExtension) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	tags := runTags(r, "completed")
	s.count(StatsdRunCount, tags)
	if err := s.client.Timing(StatsdRunLatency, elapsed, tags, s.rate); err != nil {
		s.logger.Warn("statsd timing failed", slog.String("error", err.Error()))
	}
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (s *StatsdExtension) OnRunFailed(_ context.Context, r *workflow.Run, _ error) error {
	s.count(StatsdRunCount, runTags(r, "failed"))
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (s *StatsdExtension) OnRunCancelled(_ context.Context, r *workflow.Run) error {
	s.count(StatsdRunCount, runTags(r, "cancelled"))
	return nil
}

// OnEventReceived implements ext.EventReceived.
func (s *StatsdExtension) OnEventReceived(_ context.Context, evt *event.Event) error {
	s.count(StatsdEventReceived, []string{"event:" + evt.Name})
	return nil
}

// OnCronFired implements ext.CronFired.
func (s *StatsdExtension) OnCronFired(_ context.Context, entryName string, _ id.RunID) error {
	s.count(StatsdCronFired, []string{"cron:" + entryName})
	return nil
}
