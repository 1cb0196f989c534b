package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta/workflow"
)

var runStates = []workflow.RunState{
	workflow.RunStateQueued,
	workflow.RunStateRunning,
	workflow.RunStateSleeping,
	workflow.RunStateCompleted,
	workflow.RunStateFailed,
	workflow.RunStateCancelled,
}

func (a *API) stats(c *gin.Context) {
	ctx := c.Request.Context()

	jobs, err := a.countJobs(c)
	if err != nil {
		a.abort(c, err)
		return
	}

	var runs RunCounts
	for _, state := range runStates {
		list, listErr := a.eng.ListRuns(ctx, workflow.ListOpts{State: state})
		if listErr != nil {
			a.abort(c, fmt.Errorf("list %s runs: %w", state, listErr))
			return
		}
		switch state {
		case workflow.RunStateQueued:
			runs.Queued = len(list)
		case workflow.RunStateRunning:
			runs.Running = len(list)
		case workflow.RunStateSleeping:
			runs.Sleeping = len(list)
		case workflow.RunStateCompleted:
			runs.Completed = len(list)
		case workflow.RunStateFailed:
			runs.Failed = len(list)
		case workflow.RunStateCancelled:
			runs.Cancelled = len(list)
		}
	}

	dlqCount, err := a.eng.DLQ().Count(ctx)
	if err != nil {
		a.abort(c, fmt.Errorf("count dlq: %w", err))
		return
	}

	workers, err := a.eng.Store().ListWorkers(ctx)
	if err != nil {
		a.abort(c, fmt.Errorf("list workers: %w", err))
		return
	}

	resp := StatsResponse{
		Jobs:      jobs,
		Runs:      runs,
		DLQCount:  dlqCount,
		Workers:   workers,
		Pool:      a.eng.PoolStats(),
		Admission: a.eng.QueueManager().Usage(),
		At:        a.now().UTC(),
	}
	if a.broker != nil {
		s := a.broker.Stats()
		resp.Stream = &s
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) listWorkers(c *gin.Context) {
	workers, err := a.eng.Store().ListWorkers(c.Request.Context())
	if err != nil {
		a.abort(c, fmt.Errorf("list workers: %w", err))
		return
	}
	c.JSON(http.StatusOK, workers)
}
