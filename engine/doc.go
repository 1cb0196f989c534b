// Package engine wires the orquesta subsystems into one process: the
// workflow registry and runner, the event bus, the cron scheduler, the
// dead letter queue and the worker pool that executes runs.
//
// Every run is driven by a single execution job named [RunJobName]. When
// a step must be retried or a sleep has not elapsed, the job is snoozed
// until the run is due, so waiting runs hold no worker.
//
// # Building an Engine
//
//	eng, err := engine.New(redisStore,
//	    engine.WithLogger(logger),
//	    engine.WithConcurrency(20),
//	    engine.WithExtension(statsdExt),
//	    engine.WithBackoff(retry.Exponential{Initial: time.Second, Max: time.Minute}),
//	)
//	if err := eng.Register(functions.All(sender)...); err != nil {
//	    return err
//	}
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop(ctx)
//
// # Sending Events
//
//	evt, runIDs, err := eng.SendJSON(ctx, "pedido/procesar", order)
//
// Send returns once the triggered runs are persisted and queued.
//
// # Options
//
//   - [WithLogger]: structured logger for every subsystem
//   - [WithConfig], [WithConcurrency], [WithDefaultRetries]: engine tuning
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: set the retry delay strategy
//   - [WithQueueConfig]: per-queue rate limits and concurrency
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
