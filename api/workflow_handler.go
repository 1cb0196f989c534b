package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

type listRunsQuery struct {
	pageQuery
	State    string `form:"state"`
	Workflow string `form:"workflow"`
}

func (a *API) listWorkflows(c *gin.Context) {
	defs := a.eng.Registry().Definitions()
	out := make([]WorkflowSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, WorkflowSummary{
			ID:       d.ID,
			Name:     d.Name,
			Triggers: d.Triggers,
			Retries:  d.MaxAttempts(a.eng.Config().DefaultRetries) - 1,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) listRuns(c *gin.Context) {
	var q listRunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	runs, err := a.eng.ListRuns(c.Request.Context(), workflow.ListOpts{
		Limit:      q.limit(),
		Offset:     q.Offset,
		State:      workflow.RunState(q.State),
		WorkflowID: q.Workflow,
	})
	if err != nil {
		a.abort(c, fmt.Errorf("list runs: %w", err))
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (a *API) getRun(c *gin.Context) {
	runID, ok := parseParam(c, "runId", id.ParseRunID)
	if !ok {
		return
	}

	run, err := a.eng.GetRun(c.Request.Context(), runID)
	if err != nil {
		a.abort(c, err)
		return
	}
	steps, err := a.eng.Steps(c.Request.Context(), runID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, RunDetail{Run: run, Steps: steps})
}

func (a *API) cancelRun(c *gin.Context) {
	runID, ok := parseParam(c, "runId", id.ParseRunID)
	if !ok {
		return
	}

	run, err := a.eng.Cancel(c.Request.Context(), runID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a *API) replayRun(c *gin.Context) {
	runID, ok := parseParam(c, "runId", id.ParseRunID)
	if !ok {
		return
	}

	run, err := a.eng.Runner().Replay(c.Request.Context(), runID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// parseParam parses a typed ID path parameter, replying 400 on failure.
func parseParam(c *gin.Context, name string, parse func(string) (id.ID, error)) (id.ID, bool) {
	v, err := parse(c.Param(name))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s: %v", name, err))
		return id.Nil, false
	}
	return v, true
}
