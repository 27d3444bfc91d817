package recorder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/dag/testutil"
	"github.com/kbukum/taskflow/database"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
)

const sumSchema = `{
  "id": "sum",
  "version": 3,
  "nodes": [
    {"node_id": "in", "node_type": "input", "config": {"mapping": {"a": "input.a"}}},
    {"node_id": "add", "node_type": "transform", "config": {"processing_type": "add"}},
    {"node_id": "out", "node_type": "output", "config": {"ports": {"total": "nodes.add.output.total"}}}
  ],
  "edges": [
    {"source_node_id": "in", "target_node_id": "add"},
    {"source_node_id": "add", "target_node_id": "out"}
  ]
}`

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(context.Background(), sqlite.Open(":memory:"),
		database.Config{MaxOpenConns: 1, MaxIdleConns: 1, LogLevel: "silent"}, logger.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func TestStore_SchedulerRun(t *testing.T) {
	store := newStore(t)
	reg := dag.NewRegistry()
	reg.RegisterProcessor("add", testutil.NewMockProcessorFunc(func(_ context.Context, req *dag.NodeRequest) (*dag.NodeResult, error) {
		a, _ := req.Input["a"].(float64)
		return &dag.NodeResult{Success: true, Output: map[string]any{"total": a + 1}}, nil
	}))
	sched := dag.NewScheduler(dag.Config{}, reg, store, nil)

	exec := &dag.Execution{TaskID: "task-1", UserID: "u1", Input: map[string]any{"a": 41.0}}
	if err := sched.Run(context.Background(), exec, testutil.MustParse(t, sumSchema)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != dag.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.SchemaID != "sum" || got.SchemaVersion != 3 {
		t.Errorf("expected schema sum@3, got %s@%d", got.SchemaID, got.SchemaVersion)
	}
	if got.Output["total"] != 42.0 {
		t.Errorf("expected total 42, got %v", got.Output["total"])
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected start and completion timestamps")
	}

	steps, err := store.ListSteps(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, want := range []string{"in", "add", "out"} {
		if steps[i].NodeID != want {
			t.Errorf("step %d: expected node %s, got %s", i, want, steps[i].NodeID)
		}
		if steps[i].StepIndex != i {
			t.Errorf("step %d: expected index %d, got %d", i, i, steps[i].StepIndex)
		}
		if steps[i].Status != dag.StatusCompleted {
			t.Errorf("step %d: expected completed, got %s", i, steps[i].Status)
		}
	}

	byTask, err := store.GetExecutionByTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("get by task: %v", err)
	}
	if byTask.ID != exec.ID {
		t.Errorf("expected %s, got %s", exec.ID, byTask.ID)
	}
}

func TestStore_FailedRunRecordsError(t *testing.T) {
	store := newStore(t)
	reg := dag.NewRegistry()
	reg.RegisterProcessor("add", testutil.NewMockProcessor(nil, fmt.Errorf("boom")))
	sched := dag.NewScheduler(dag.Config{}, reg, store, nil)

	exec := &dag.Execution{Input: map[string]any{"a": 1.0}}
	if err := sched.Run(context.Background(), exec, testutil.MustParse(t, sumSchema)); err == nil {
		t.Fatal("expected error")
	}

	got, err := store.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != dag.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || got.Error.FailedNodeID != "add" {
		t.Errorf("expected failure at add, got %+v", got.Error)
	}
}

func TestStore_TerminalExecutionIsImmutable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	exec := &dag.Execution{ID: "e1", Status: dag.StatusRunning, Mode: dag.ModeReal, CreatedAt: time.Now().UTC()}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("create: %v", err)
	}

	exec.Status = dag.StatusCompleted
	exec.Output = map[string]any{"ok": true}
	if err := store.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("update: %v", err)
	}

	exec.Status = dag.StatusFailed
	err := store.UpdateExecution(ctx, exec)
	if !errors.HasCode(err, errors.ErrCodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}

	got, err := store.GetExecution(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != dag.StatusCompleted {
		t.Errorf("expected completed to stick, got %s", got.Status)
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.GetExecution(ctx, "missing"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if _, err := store.GetExecutionByTask(ctx, "missing"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	err := store.UpdateExecution(ctx, &dag.Execution{ID: "missing", Status: dag.StatusRunning})
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestStore_RecordStepUpserts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	step := &dag.Step{ExecutionID: "e1", StepIndex: 0, NodeID: "n", NodeType: "transform", Status: dag.StatusRunning, Iteration: -1}
	if err := store.RecordStep(ctx, step); err != nil {
		t.Fatalf("record: %v", err)
	}
	step.Status = dag.StatusCompleted
	step.Output = map[string]any{"v": 1.0}
	if err := store.RecordStep(ctx, step); err != nil {
		t.Fatalf("record: %v", err)
	}

	steps, err := store.ListSteps(ctx, "e1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Status != dag.StatusCompleted {
		t.Errorf("expected completed, got %s", steps[0].Status)
	}
	if steps[0].Iteration != -1 {
		t.Errorf("expected iteration -1, got %d", steps[0].Iteration)
	}
	out, _ := steps[0].Output.(map[string]any)
	if out["v"] != 1.0 {
		t.Errorf("expected output v=1, got %v", steps[0].Output)
	}
}

func TestStore_ListExecutions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		exec := &dag.Execution{
			ID:        fmt.Sprintf("e%d", i),
			UserID:    user,
			SchemaID:  "s",
			Mode:      dag.ModeReal,
			Status:    dag.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantIDs   []string
		wantTotal int64
	}{
		{"all newest first", Filter{}, []string{"e4", "e3", "e2", "e1", "e0"}, 5},
		{"by user", Filter{UserID: "u2"}, []string{"e3", "e1"}, 2},
		{"paged", Filter{Page: 2, PageSize: 2}, []string{"e2", "e1"}, 5},
		{"by status", Filter{Status: dag.StatusCompleted}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.ListExecutions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if page.Pagination.Total != tt.wantTotal {
				t.Errorf("expected total %d, got %d", tt.wantTotal, page.Pagination.Total)
			}
			if len(page.Data) != len(tt.wantIDs) {
				t.Fatalf("expected %d items, got %d", len(tt.wantIDs), len(page.Data))
			}
			for i, id := range tt.wantIDs {
				if page.Data[i].ID != id {
					t.Errorf("item %d: expected %s, got %s", i, id, page.Data[i].ID)
				}
			}
		})
	}
}
