// Package observability provides extensions that turn run lifecycle
// events into metrics. [MetricsExtension] records OpenTelemetry
// instruments; [StatsdExtension] sends the same signals to a DogStatsD
// agent.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
