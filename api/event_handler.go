package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
)

type listEventsQuery struct {
	pageQuery
	Name string `form:"name"`
}

func (a *API) listEvents(c *gin.Context) {
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	events, err := a.eng.EventBus().Store().ListEvents(c.Request.Context(), event.ListOpts{
		Limit:  q.limit(),
		Offset: q.Offset,
		Name:   q.Name,
	})
	if err != nil {
		a.abort(c, fmt.Errorf("list events: %w", err))
		return
	}
	c.JSON(http.StatusOK, events)
}

func (a *API) getEvent(c *gin.Context) {
	eventID, ok := parseParam(c, "eventId", id.ParseEventID)
	if !ok {
		return
	}

	evt, err := a.eng.EventBus().Store().GetEvent(c.Request.Context(), eventID)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// sendEvent accepts any event name, so workflows can be triggered
// without a dedicated public endpoint.
func (a *API) sendEvent(c *gin.Context) {
	var req SendEventRequest
	if !bindBody(c, &req) {
		return
	}
	if req.Name == "" {
		a.abort(c, &orquesta.ValidationError{Field: "name"})
		return
	}
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	a.emit(c, req.Name, data, EventAck{Mensaje: "Evento recibido"})
}
