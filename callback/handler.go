package callback

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/server"
)

// RegisterRoutes mounts the callback endpoint on r.
func (g *Gateway) RegisterRoutes(r gin.IRouter) {
	r.POST("/callbacks/:task_id/steps/:step_index", g.Handle)
}

// Handle accepts a callback whose body is a dag.Signal and whose signature
// travels in headers.
func (g *Gateway) Handle(c *gin.Context) {
	step, err := strconv.Atoi(c.Param("step_index"))
	if err != nil || step < 0 {
		server.RespondWithError(c, errors.InvalidInput("step_index", "must be a non-negative integer"))
		return
	}
	ts, err := ParseTimestamp(c.GetHeader(HeaderTimestamp))
	if err != nil {
		g.metrics.record(SourceHTTP, OutcomeRejected)
		server.RespondWithError(c, errors.InvalidSignature())
		return
	}

	var sig dag.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		server.RespondWithError(c, errors.Validation("Malformed callback body."))
		return
	}
	if sig.Status == "" {
		server.RespondWithError(c, errors.MissingField("status"))
		return
	}

	_, err = g.accept(c.Request.Context(), SourceHTTP, Envelope{
		TaskID:    c.Param("task_id"),
		StepIndex: step,
		Timestamp: ts,
		Signature: c.GetHeader(HeaderSignature),
		Signal:    sig,
	})
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
