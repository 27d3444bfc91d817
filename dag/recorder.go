package dag

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/kbukum/taskflow/errors"
)

// ErrExecutionFinished is returned when an update targets an execution that
// already reached a terminal status.
var ErrExecutionFinished = errors.New(errors.ErrCodeConflict, "The execution has already finished.", http.StatusConflict)

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) CreateExecution(context.Context, *Execution) error { return nil }
func (NopRecorder) UpdateExecution(context.Context, *Execution) error { return nil }
func (NopRecorder) RecordStep(context.Context, *Step) error           { return nil }

// MemoryRecorder keeps executions and steps in memory. It backs dry runs
// and tests.
type MemoryRecorder struct {
	mu         sync.RWMutex
	executions map[string]Execution
	steps      map[string]map[int]Step
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		executions: make(map[string]Execution),
		steps:      make(map[string]map[int]Step),
	}
}

func (m *MemoryRecorder) CreateExecution(_ context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = *exec
	return nil
}

// UpdateExecution refuses to change terminal executions.
func (m *MemoryRecorder) UpdateExecution(_ context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.executions[exec.ID]; ok && prev.Status.Terminal() {
		return ErrExecutionFinished
	}
	m.executions[exec.ID] = *exec
	return nil
}

// RecordStep upserts by step index.
func (m *MemoryRecorder) RecordStep(_ context.Context, step *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.steps[step.ExecutionID]
	if !ok {
		byIndex = make(map[int]Step)
		m.steps[step.ExecutionID] = byIndex
	}
	byIndex[step.StepIndex] = *step
	return nil
}

func (m *MemoryRecorder) Execution(id string) (Execution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	return e, ok
}

// Steps returns an execution's steps ordered by step index.
func (m *MemoryRecorder) Steps(executionID string) []Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Step, 0, len(m.steps[executionID]))
	for _, s := range m.steps[executionID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out
}

// StepsFor returns the steps of one node, in order.
func (m *MemoryRecorder) StepsFor(executionID, nodeID string) []Step {
	var out []Step
	for _, s := range m.Steps(executionID) {
		if s.NodeID == nodeID {
			out = append(out, s)
		}
	}
	return out
}
