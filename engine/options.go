package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/ext"
	mw "github.com/orquesta/orquesta/middleware"
	"github.com/orquesta/orquesta/queue"
	"github.com/orquesta/orquesta/retry"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithConfig replaces the engine configuration.
func WithConfig(cfg orquesta.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithConcurrency sets how many runs execute at the same time.
func WithConcurrency(n int) Option {
	return func(eng *Engine) { eng.config.Concurrency = n }
}

// WithDefaultRetries sets the retries of definitions that leave Retries zero.
func WithDefaultRetries(n int) Option {
	return func(eng *Engine) { eng.config.DefaultRetries = n }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware appends middleware to the execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the delay strategy for step retries and for
// re-executing runs after infrastructure errors.
// If not set, retry.DefaultBackoff() is used.
func WithBackoff(b retry.Backoff) Option {
	return func(eng *Engine) { eng.backoff = b }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}
