package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/quota"
	"github.com/kbukum/taskflow/recorder"
	"github.com/kbukum/taskflow/schema"
	"github.com/kbukum/taskflow/server"
	"github.com/kbukum/taskflow/server/middleware"
	"github.com/kbukum/taskflow/task"
)

var schemaIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// SubmitRequest is the body of POST /v1/tasks. Exactly one of Schema and
// SchemaID must be set.
type SubmitRequest struct {
	TaskID   string          `json:"task_id" binding:"omitempty,max=128"`
	SchemaID string          `json:"schema_id" binding:"omitempty,max=128"`
	Schema   json.RawMessage `json:"schema"`
	Input    map[string]any  `json:"input"`
	Mode     dag.Mode        `json:"mode" binding:"omitempty,oneof=real mock"`
	Cost     int64           `json:"cost" binding:"gte=0"`
}

// BalanceResponse is the body of GET /v1/balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// Handler serves the task and execution API. Every route acts on behalf of
// the authenticated subject.
type Handler struct {
	tasks   *task.Service
	store   *recorder.Store
	ledger  *quota.Ledger
	schemas schema.Loader
	log     *logger.Logger
}

// NewHandler creates the API handler. schemas may be nil, in which case
// submissions must carry an inline schema.
func NewHandler(tasks *task.Service, store *recorder.Store, ledger *quota.Ledger, schemas schema.Loader, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{tasks: tasks, store: store, ledger: ledger, schemas: schemas, log: log.WithComponent("api")}
}

// RegisterRoutes mounts the API under /v1 behind mw.
func (h *Handler) RegisterRoutes(r gin.IRouter, mw ...gin.HandlerFunc) {
	v1 := r.Group("/v1", mw...)
	v1.POST("/tasks", h.SubmitTask)
	v1.GET("/tasks/:task_id", h.GetTask)
	v1.DELETE("/tasks/:task_id", h.CancelTask)
	v1.GET("/executions", h.ListExecutions)
	v1.GET("/executions/:id", h.GetExecution)
	v1.GET("/executions/:id/steps", h.ListSteps)
	v1.GET("/balance", h.GetBalance)
}

func (h *Handler) SubmitTask(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, errors.Validation("Invalid request body.").WithCause(err))
		return
	}
	ps, err := h.resolveSchema(&req)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	exec, err := h.tasks.Submit(c.Request.Context(), task.Request{
		UserID: middleware.Subject(c),
		TaskID: req.TaskID,
		Schema: ps,
		Input:  req.Input,
		Mode:   req.Mode,
		Cost:   req.Cost,
	})
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondAccepted(c, exec)
}

func (h *Handler) resolveSchema(req *SubmitRequest) (*schema.PipelineSchema, error) {
	inline := len(req.Schema) > 0 && string(req.Schema) != "null"
	switch {
	case inline && req.SchemaID != "":
		return nil, errors.InvalidInput("schema", "set either schema or schema_id, not both")
	case inline:
		ps, err := schema.Parse(req.Schema)
		if err != nil {
			return nil, errors.SchemaInvalid("The schema document could not be decoded.").WithCause(err)
		}
		return ps, nil
	case req.SchemaID != "":
		if h.schemas == nil {
			return nil, errors.InvalidInput("schema_id", "no schema directory is configured")
		}
		if !schemaIDPattern.MatchString(req.SchemaID) {
			return nil, errors.InvalidInput("schema_id", "contains invalid characters")
		}
		ps, err := h.schemas.Load(req.SchemaID)
		if err != nil {
			return nil, errors.NotFound("schema", req.SchemaID).WithCause(err)
		}
		return ps, nil
	default:
		return nil, errors.MissingField("schema")
	}
}

func (h *Handler) GetTask(c *gin.Context) {
	exec, err := h.ownedByTask(c, c.Param("task_id"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, exec)
}

func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")
	if _, err := h.ownedByTask(c, taskID); err != nil {
		server.RespondWithError(c, err)
		return
	}
	if err := h.tasks.Cancel(c.Request.Context(), taskID); err != nil {
		server.RespondWithError(c, err)
		return
	}
	h.log.Info("task cancelled via api", logger.Fields(logger.FieldTaskID, taskID, logger.FieldUserID, middleware.Subject(c)))
	server.RespondAccepted(c, gin.H{"task_id": taskID, "status": "cancelling"})
}

func (h *Handler) ListExecutions(c *gin.Context) {
	var f recorder.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		server.RespondWithError(c, errors.Validation("Invalid query parameters.").WithCause(err))
		return
	}
	f.UserID = middleware.Subject(c)

	page, err := h.store.ListExecutions(c.Request.Context(), f)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.owned(c, c.Param("id"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, exec)
}

func (h *Handler) ListSteps(c *gin.Context) {
	exec, err := h.owned(c, c.Param("id"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	steps, err := h.store.ListSteps(c.Request.Context(), exec.ID)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, steps)
}

func (h *Handler) GetBalance(c *gin.Context) {
	userID := middleware.Subject(c)
	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, BalanceResponse{UserID: userID, Balance: balance})
}

// owned loads an execution and hides it from other users.
func (h *Handler) owned(c *gin.Context, id string) (*dag.Execution, error) {
	exec, err := h.store.GetExecution(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if exec.UserID != middleware.Subject(c) {
		return nil, errors.NotFound("execution", id)
	}
	return exec, nil
}

func (h *Handler) ownedByTask(c *gin.Context, taskID string) (*dag.Execution, error) {
	exec, err := h.store.GetExecutionByTask(c.Request.Context(), taskID)
	if err != nil {
		return nil, err
	}
	if exec.UserID != middleware.Subject(c) {
		return nil, errors.NotFound("execution", taskID)
	}
	return exec, nil
}
