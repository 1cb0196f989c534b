package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/stream"
)

type streamQuery struct {
	Topics []string `form:"topic"`
}

// streamTopics serves GET /v1/stream?topic=a&topic=b as server-sent
// events. Without a topic it streams the firehose.
func (a *API) streamTopics(c *gin.Context) {
	var q streamQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(q.Topics) == 0 {
		q.Topics = []string{stream.TopicFirehose}
	}
	for _, topic := range q.Topics {
		if err := stream.ValidateTopic(topic); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	sub := a.broker.Subscribe(q.Topics...)
	defer a.broker.Unsubscribe(sub)
	a.pump(c, sub, false)
}

// streamRun serves the events of one run and ends after its terminal
// event. The first frame is a snapshot of the run.
func (a *API) streamRun(c *gin.Context) {
	runID, ok := parseParam(c, "runId", id.ParseRunID)
	if !ok {
		return
	}

	// Subscribe before reading the run so no transition is missed.
	sub := a.broker.Subscribe(stream.RunTopic(runID.String()))
	defer a.broker.Unsubscribe(sub)

	run, err := a.eng.GetRun(c.Request.Context(), runID)
	if err != nil {
		a.abort(c, err)
		return
	}

	setStreamHeaders(c)
	c.SSEvent("snapshot", run)
	c.Writer.Flush()
	if run.State.Terminal() {
		return
	}
	a.pump(c, sub, true)
}

func setStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// pump copies events from sub to the client until the client leaves, the
// broker closes sub, or untilTerminal is set and a terminal event passes.
func (a *API) pump(c *gin.Context, sub *stream.Subscriber, untilTerminal bool) {
	if !c.Writer.Written() {
		setStreamHeaders(c)
		c.Writer.Flush()
	}
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	done := c.Request.Context().Done()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_, _ = io.WriteString(c.Writer, ": ping\n\n")
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			c.SSEvent(string(evt.Type), evt)
			if untilTerminal && evt.Type.Terminal() {
				c.Writer.Flush()
				return
			}
		}
		c.Writer.Flush()
	}
}
