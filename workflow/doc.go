// Package workflow defines workflow definitions, runs, step checkpoints,
// and the runner that executes them.
//
// A handler is replayed from the top on every execution. Each named step
// runs at most once to success: its JSON output is stored, and later
// executions return the stored output instead of calling the step again.
// A failing step is retried by parking the run until the backoff delay
// elapses. A sleep parks the run without holding a worker.
//
//	def := workflow.Definition{
//	    ID:       "procesar-pedido",
//	    Triggers: []workflow.Trigger{workflow.OnEvent("tienda/pedido.creado")},
//	    Retries:  5,
//	    Handler: func(wf *workflow.Workflow) (any, error) {
//	        order, err := workflow.Input[Order](wf)
//	        if err != nil {
//	            return nil, err
//	        }
//	        if err := wf.Step("procesar-pago", func(ctx context.Context) error {
//	            return charge(ctx, order)
//	        }); err != nil {
//	            return nil, err
//	        }
//	        if err := wf.Sleep("espera", time.Minute); err != nil {
//	            return nil, err
//	        }
//	        return map[string]any{"estado": "procesado"}, nil
//	    },
//	}
//
// Step names must be unique within a run and stable across executions.
//
// # Run states
//
//	queued → running → completed
//	               ↘ sleeping → running
//	               ↘ queued (step retry) → running
//	               ↘ failed
//	any non-terminal → cancelled
package workflow
