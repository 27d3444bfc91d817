package dag

import (
	"time"

	"github.com/kbukum/taskflow/schema"
)

// Status is the lifecycle state of an execution or a step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s is final for an execution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Mode selects real processors or the mock processor.
type Mode string

const (
	ModeReal Mode = "real"
	ModeMock Mode = "mock"
)

// Execution is one run of a schema on behalf of a task.
type Execution struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	UserID        string         `json:"user_id"`
	SchemaID      string         `json:"schema_id"`
	SchemaVersion int            `json:"schema_version"`
	Mode          Mode           `json:"mode"`
	Status        Status         `json:"status"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Error         *ErrorDetails  `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// CallbackKey is the id callbacks for this execution are addressed by.
func (e *Execution) CallbackKey() string {
	if e.TaskID != "" {
		return e.TaskID
	}
	return e.ID
}

// ErrorDetails describes why an execution failed.
type ErrorDetails struct {
	FailedNodeID string `json:"failed_node_id,omitempty"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// Step is one node visit. Iteration is -1 outside loops.
type Step struct {
	ExecutionID string          `json:"execution_id"`
	StepIndex   int             `json:"step_index"`
	NodeID      string          `json:"node_id"`
	NodeType    schema.NodeType `json:"node_type"`
	Status      Status          `json:"status"`
	Input       any             `json:"input,omitempty"`
	Output      any             `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	RetryCount  int             `json:"retry_count"`
	Iteration   int             `json:"iteration"`
	Branch      string          `json:"branch,omitempty"`
}

// Break reasons reported by a loop.
const (
	BreakExhausted     = "exhausted"
	BreakCondition     = "break_condition"
	BreakMaxIterations = "max_iterations"
)

// LoopResult is a loop node's output. Each iteration maps body node ids
// to their outputs.
type LoopResult struct {
	Iterations          []map[string]any `json:"iterations"`
	CompletedIterations int              `json:"completed_iterations"`
	BreakReason         string           `json:"break_reason"`
}

// BranchError is a recovered branch failure.
type BranchError struct {
	Branch  string `json:"branch"`
	NodeID  string `json:"node_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParallelResult is a parallel node's output. Branches maps branch names to
// the outputs of their nodes.
type ParallelResult struct {
	Branches map[string]any `json:"branches"`
	Errors   []BranchError  `json:"errors,omitempty"`
	Winner   string         `json:"winner,omitempty"`
}

// ConditionResult is a condition node's output.
type ConditionResult struct {
	Result         bool   `json:"result"`
	SelectedBranch string `json:"selected_branch,omitempty"`
}
