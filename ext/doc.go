// Package ext defines the extension system for orquesta.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, sending alerts or writing audit logs. Each hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type Alerts struct{ tg *telegram.Client }
//
//	func (a *Alerts) Name() string { return "alerts" }
//
//	func (a *Alerts) OnRunFailed(ctx context.Context, r *workflow.Run, err error) error {
//	    _, sendErr := a.tg.Send(ctx, "run "+r.ID.String()+" failed: "+err.Error())
//	    return sendErr
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted], [RunCompleted], [RunFailed], [RunCancelled]
//   - [StepCompleted] and [StepFailed], per step attempt
//   - [RunRetrying] and [RunSleeping], when a run is parked
//
// # Other Hooks
//
//   - [EventReceived]: an event was accepted by the bus
//   - [CronFired]: a cron tick started a run
//   - [Shutdown]: the engine is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never reach the caller.
package ext
