package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"

	"github.com/kbukum/taskflow/auth"
	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/dag/testutil"
	"github.com/kbukum/taskflow/database"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/quota"
	"github.com/kbukum/taskflow/recorder"
	"github.com/kbukum/taskflow/schema"
	"github.com/kbukum/taskflow/server/middleware"
	"github.com/kbukum/taskflow/task"
)

const doublingSchema = `{
  "id": "double",
  "version": 1,
  "nodes": [
    {"node_id": "in", "node_type": "input", "config": {"mapping": {"x": "input.x"}}},
    {"node_id": "double", "node_type": "transform", "config": {"processing_type": "multiply", "params": {"factor": 2}, "timeout_ms": 2000}},
    {"node_id": "out", "node_type": "output", "config": {"ports": {"result": "nodes.double.output.value"}}}
  ],
  "edges": [
    {"source_node_id": "in", "target_node_id": "double"},
    {"source_node_id": "double", "target_node_id": "out"}
  ]
}`

type apiFixture struct {
	router *gin.Engine
	tokens *auth.Service
	tasks  *task.Service
	ledger *quota.Ledger
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(context.Background(), sqlite.Open(":memory:"),
		database.Config{MaxOpenConns: 1, MaxIdleConns: 1, LogLevel: "silent"}, logger.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.AutoMigrate(append(quota.Models(), recorder.Models()...)...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := dag.NewRegistry()
	reg.RegisterProcessor("multiply", testutil.NewMockProcessorFunc(func(_ context.Context, req *dag.NodeRequest) (*dag.NodeResult, error) {
		x, _ := req.Input["x"].(float64)
		f, _ := req.Params["factor"].(float64)
		return &dag.NodeResult{Success: true, Output: map[string]any{"value": x * f}}, nil
	}))
	store := recorder.NewStore(db)
	ledger := quota.NewLedger(db, nil, logger.Nop())
	tasks := task.NewService(task.Config{}, dag.NewScheduler(dag.Config{}, reg, store, nil), ledger, store, logger.Nop())
	t.Cleanup(func() { _ = tasks.Stop(context.Background()) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "double.json"), []byte(doublingSchema), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	tokens, err := auth.NewService(auth.Config{Enabled: true, Secret: "test-secret"})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	r := gin.New()
	NewHandler(tasks, store, ledger, schema.NewFileLoader(dir), logger.Nop()).
		RegisterRoutes(r, middleware.Auth(tokens.Validator()))
	return &apiFixture{router: r, tokens: tokens, tasks: tasks, ledger: ledger}
}

func (f *apiFixture) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := f.tokens.Issue(user)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) wait(t *testing.T, taskID string) *dag.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec, err := f.tasks.Wait(ctx, taskID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return exec
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) errors.ErrorCode {
	t.Helper()
	var body errors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return body.Error.Code
}

func TestSubmitTask_InlineSchema(t *testing.T) {
	f := newAPI(t)
	if _, err := f.ledger.Credit(context.Background(), "alice", 50); err != nil {
		t.Fatalf("credit: %v", err)
	}

	rr := f.do(t, "alice", http.MethodPost, "/v1/tasks", map[string]any{
		"task_id": "t-1",
		"schema":  json.RawMessage(doublingSchema),
		"input":   map[string]any{"x": 5},
		"cost":    20,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data dag.Execution `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.TaskID != "t-1" || resp.Data.UserID != "alice" {
		t.Errorf("expected t-1 owned by alice, got %s/%s", resp.Data.TaskID, resp.Data.UserID)
	}

	done := f.wait(t, "t-1")
	if done.Status != dag.StatusCompleted || done.Output["result"] != 10.0 {
		t.Fatalf("expected completed with result 10, got %s %v", done.Status, done.Output)
	}

	rr = f.do(t, "alice", http.MethodGet, "/v1/balance", nil)
	var bal struct {
		Data BalanceResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bal.Data.Balance != 30 {
		t.Errorf("expected balance 30, got %d", bal.Data.Balance)
	}
}

func TestSubmitTask_SchemaByID(t *testing.T) {
	f := newAPI(t)
	rr := f.do(t, "alice", http.MethodPost, "/v1/tasks", map[string]any{
		"task_id":   "t-2",
		"schema_id": "double",
		"input":     map[string]any{"x": 2},
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if done := f.wait(t, "t-2"); done.Output["result"] != 4.0 {
		t.Errorf("expected result 4, got %v", done.Output["result"])
	}
}

func TestSubmitTask_Errors(t *testing.T) {
	f := newAPI(t)
	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantErr  errors.ErrorCode
	}{
		{"no schema", map[string]any{"input": map[string]any{}}, http.StatusBadRequest, errors.ErrCodeMissingField},
		{"both schemas", map[string]any{"schema_id": "double", "schema": json.RawMessage(doublingSchema)}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"unknown schema id", map[string]any{"schema_id": "nope"}, http.StatusNotFound, errors.ErrCodeNotFound},
		{"path in schema id", map[string]any{"schema_id": "../etc/passwd"}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"invalid schema", map[string]any{"schema": json.RawMessage(`{"id": "x", "nodes": []}`)}, http.StatusUnprocessableEntity, errors.ErrCodeSchemaInvalid},
		{"negative cost", map[string]any{"schema_id": "double", "cost": -1}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"insufficient balance", map[string]any{"schema_id": "double", "cost": 5}, http.StatusPaymentRequired, errors.ErrCodeQuotaInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, "bob", http.MethodPost, "/v1/tasks", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tt.wantErr {
				t.Errorf("expected %s, got %s", tt.wantErr, got)
			}
		})
	}
}

func TestRoutes_RequireToken(t *testing.T) {
	f := newAPI(t)
	rr := f.do(t, "", http.MethodGet, "/v1/executions", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestExecutions_ScopedToCaller(t *testing.T) {
	f := newAPI(t)
	rr := f.do(t, "alice", http.MethodPost, "/v1/tasks", map[string]any{"task_id": "t-3", "schema_id": "double", "input": map[string]any{"x": 1}})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	exec := f.wait(t, "t-3")

	rr = f.do(t, "alice", http.MethodGet, "/v1/executions/"+exec.ID, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected owner to read execution, got %d", rr.Code)
	}
	rr = f.do(t, "mallory", http.MethodGet, "/v1/executions/"+exec.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user, got %d", rr.Code)
	}
	rr = f.do(t, "mallory", http.MethodDelete, "/v1/tasks/t-3", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 cancelling another user's task, got %d", rr.Code)
	}

	rr = f.do(t, "alice", http.MethodGet, "/v1/executions/"+exec.ID+"/steps", nil)
	var steps struct {
		Data []dag.Step `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &steps); err != nil {
		t.Fatalf("decode steps: %v", err)
	}
	if len(steps.Data) != 3 {
		t.Errorf("expected 3 steps, got %d", len(steps.Data))
	}

	rr = f.do(t, "alice", http.MethodGet, "/v1/executions?status=completed", nil)
	var page recorder.Page
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Pagination.Total != 1 {
		t.Errorf("expected 1 execution for alice, got %d", page.Pagination.Total)
	}
	rr = f.do(t, "mallory", http.MethodGet, "/v1/executions", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Pagination.Total != 0 {
		t.Errorf("expected no executions for mallory, got %d", page.Pagination.Total)
	}

	rr = f.do(t, "alice", http.MethodGet, "/v1/executions?status=bogus", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rr.Code)
	}

	rr = f.do(t, "alice", http.MethodDelete, "/v1/tasks/t-3", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a finished task, got %d", rr.Code)
	}
}
