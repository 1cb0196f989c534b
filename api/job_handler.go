package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
)

type listJobsQuery struct {
	pageQuery
	State string `form:"state"`
	Queue string `form:"queue"`
}

var jobStates = []job.State{
	job.StatePending,
	job.StateRunning,
	job.StateCompleted,
	job.StateFailed,
	job.StateRetrying,
	job.StateCancelled,
}

// listJobs lists run-execution jobs in one state, pending by default.
func (a *API) listJobs(c *gin.Context) {
	var q listJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	state := job.StatePending
	if q.State != "" {
		state = job.State(q.State)
	}

	jobs, err := a.eng.Store().ListJobsByState(c.Request.Context(), state, job.ListOpts{
		Limit:  q.limit(),
		Offset: q.Offset,
		Queue:  q.Queue,
	})
	if err != nil {
		a.abort(c, fmt.Errorf("list jobs: %w", err))
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(c *gin.Context) {
	jobID, ok := parseParam(c, "jobId", id.ParseJobID)
	if !ok {
		return
	}

	j, err := a.eng.Store().GetJob(c.Request.Context(), jobID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) jobCounts(c *gin.Context) {
	counts, err := a.countJobs(c)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (a *API) countJobs(c *gin.Context) (JobCountsResponse, error) {
	var resp JobCountsResponse
	for _, state := range jobStates {
		count, err := a.eng.Store().CountJobs(c.Request.Context(), job.CountOpts{State: state})
		if err != nil {
			return resp, fmt.Errorf("count jobs (%s): %w", state, err)
		}
		switch state {
		case job.StatePending:
			resp.Pending = count
		case job.StateRunning:
			resp.Running = count
		case job.StateCompleted:
			resp.Completed = count
		case job.StateFailed:
			resp.Failed = count
		case job.StateRetrying:
			resp.Retrying = count
		case job.StateCancelled:
			resp.Cancelled = count
		}
	}
	return resp, nil
}
