package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/ext"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

var (
	_ ext.Extension     = (*Broker)(nil)
	_ ext.RunStarted    = (*Broker)(nil)
	_ ext.StepCompleted = (*Broker)(nil)
	_ ext.StepFailed    = (*Broker)(nil)
	_ ext.RunRetrying   = (*Broker)(nil)
	_ ext.RunSleeping   = (*Broker)(nil)
	_ ext.RunCompleted  = (*Broker)(nil)
	_ ext.RunFailed     = (*Broker)(nil)
	_ ext.RunCancelled  = (*Broker)(nil)
	_ ext.EventReceived = (*Broker)(nil)
	_ ext.CronFired     = (*Broker)(nil)
	_ ext.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// Broker receives lifecycle hooks from the engine and publishes them to
// topic subscribers.
type Broker struct {
	topics *topicRegistry
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	nextID    atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64

	bufferSize int
}

// NewBroker creates a broker. A nil logger means slog.Default().
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:      newTopicRegistry(),
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber on topics. Call Unsubscribe when done.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	sub := newSubscriber(fmt.Sprintf("sub-%d", b.nextID.Add(1)), b.bufferSize)
	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	b.mu.Unlock()
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes sub from every topic and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.topics.unsubscribeAll(sub.ID())
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
}

// Stats reports broker counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.count(),
		SubscriberCount: n,
		TotalPublished:  b.published.Load(),
		TotalDropped:    b.dropped.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(typ EventType, data any, topics ...string) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("stream: encode event", slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	evt := &Event{
		Type:      typ,
		Timestamp: b.now().UTC(),
		Data:      raw,
		topics:    append(topics, TopicFirehose),
	}
	delivered, dropped := b.topics.broadcast(evt.topics, evt)
	b.published.Add(int64(delivered))
	b.dropped.Add(int64(dropped))
}

func (b *Broker) publishRun(typ EventType, r *workflow.Run, data RunEventData) {
	data.RunID = r.ID.String()
	data.WorkflowID = r.WorkflowID
	data.State = string(r.State)
	b.publish(typ, data, TopicRuns, RunTopic(data.RunID), WorkflowTopic(r.WorkflowID))
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnRunStarted(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventRunStarted, r, RunEventData{})
	return nil
}

func (b *Broker) OnStepCompleted(_ context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	b.publishRun(EventStepCompleted, r, RunEventData{StepName: stepName, ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, r *workflow.Run, stepName string, attempt int, err error) error {
	b.publishRun(EventStepFailed, r, RunEventData{StepName: stepName, Attempt: attempt, Error: err.Error()})
	return nil
}

func (b *Broker) OnRunRetrying(_ context.Context, r *workflow.Run, stepName string, attempt int, at time.Time) error {
	b.publishRun(EventRunRetrying, r, RunEventData{StepName: stepName, Attempt: attempt, At: at.UTC().Format(time.RFC3339)})
	return nil
}

func (b *Broker) OnRunSleeping(_ context.Context, r *workflow.Run, stepName string, until time.Time) error {
	b.publishRun(EventRunSleeping, r, RunEventData{StepName: stepName, At: until.UTC().Format(time.RFC3339)})
	return nil
}

func (b *Broker) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	b.publishRun(EventRunCompleted, r, RunEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnRunFailed(_ context.Context, r *workflow.Run, err error) error {
	b.publishRun(EventRunFailed, r, RunEventData{StepName: r.FailedStep, Error: err.Error()})
	return nil
}

func (b *Broker) OnRunCancelled(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventRunCancelled, r, RunEventData{})
	return nil
}

// ── Events and crons ────────────────────────────────

func (b *Broker) OnEventReceived(_ context.Context, evt *event.Event) error {
	b.publish(EventReceived, ReceivedEventData{EventID: evt.ID.String(), Name: evt.Name}, TopicEvents)
	return nil
}

func (b *Broker) OnCronFired(_ context.Context, entryName string, runID id.RunID) error {
	data := CronEventData{EntryName: entryName}
	if !runID.IsNil() {
		data.RunID = runID.String()
	}
	b.publish(EventCronFired, data, TopicEvents)
	return nil
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		b.topics.unsubscribeAll(sub.ID())
		sub.close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
