package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/id"
)

type listDLQQuery struct {
	pageQuery
	Workflow string `form:"workflow"`
}

type purgeDLQQuery struct {
	OlderThan time.Duration `form:"older_than"`
}

func (a *API) listDLQ(c *gin.Context) {
	var q listDLQQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	entries, err := a.eng.DLQ().List(c.Request.Context(), dlq.ListOpts{
		Limit:      q.limit(),
		Offset:     q.Offset,
		WorkflowID: q.Workflow,
	})
	if err != nil {
		a.abort(c, fmt.Errorf("list dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) getDLQ(c *gin.Context) {
	entryID, ok := parseParam(c, "entryId", id.ParseDLQID)
	if !ok {
		return
	}

	entry, err := a.eng.DLQ().Get(c.Request.Context(), entryID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// replayDLQ requeues the failed run. Its completed steps are kept.
func (a *API) replayDLQ(c *gin.Context) {
	entryID, ok := parseParam(c, "entryId", id.ParseDLQID)
	if !ok {
		return
	}

	run, err := a.eng.DLQ().Replay(c.Request.Context(), entryID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// purgeDLQ removes entries older than ?older_than (default 30 days).
func (a *API) purgeDLQ(c *gin.Context) {
	var q purgeDLQQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	if q.OlderThan <= 0 {
		q.OlderThan = 30 * 24 * time.Hour
	}

	count, err := a.eng.DLQ().Purge(c.Request.Context(), a.now().UTC().Add(-q.OlderThan))
	if err != nil {
		a.abort(c, fmt.Errorf("purge dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, PurgeDLQResponse{Purged: count})
}

func (a *API) dlqCount(c *gin.Context) {
	count, err := a.eng.DLQ().Count(c.Request.Context())
	if err != nil {
		a.abort(c, fmt.Errorf("count dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, DLQCountResponse{Count: count})
}
