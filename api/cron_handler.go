package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta/id"
)

func (a *API) listCrons(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	entries, err := a.eng.Crons(c.Request.Context())
	if err != nil {
		a.abort(c, fmt.Errorf("list crons: %w", err))
		return
	}

	offset := min(q.Offset, len(entries))
	end := min(offset+q.limit(), len(entries))
	c.JSON(http.StatusOK, entries[offset:end])
}

func (a *API) getCron(c *gin.Context) {
	cronID, ok := parseParam(c, "cronId", id.ParseCronID)
	if !ok {
		return
	}

	entry, err := a.eng.Store().GetCron(c.Request.Context(), cronID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) enableCron(c *gin.Context)  { a.setCronEnabled(c, true) }
func (a *API) disableCron(c *gin.Context) { a.setCronEnabled(c, false) }

func (a *API) setCronEnabled(c *gin.Context, enabled bool) {
	cronID, ok := parseParam(c, "cronId", id.ParseCronID)
	if !ok {
		return
	}

	entry, err := a.eng.Scheduler().SetEnabled(c.Request.Context(), cronID, enabled)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) deleteCron(c *gin.Context) {
	cronID, ok := parseParam(c, "cronId", id.ParseCronID)
	if !ok {
		return
	}

	if err := a.eng.Store().DeleteCron(c.Request.Context(), cronID); err != nil {
		a.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
