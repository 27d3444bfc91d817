package recorder

import (
	"time"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/schema"
)

// ExecutionRecord is the stored form of a dag.Execution.
type ExecutionRecord struct {
	ID            string            `gorm:"size:64;primaryKey"`
	TaskID        string            `gorm:"size:64;index"`
	UserID        string            `gorm:"size:64;index"`
	SchemaID      string            `gorm:"size:128;index"`
	SchemaVersion int               `gorm:"not null"`
	Mode          string            `gorm:"size:8;not null"`
	Status        string            `gorm:"size:16;index;not null"`
	Input         map[string]any    `gorm:"type:text;serializer:json"`
	Output        map[string]any    `gorm:"type:text;serializer:json"`
	Variables     map[string]any    `gorm:"type:text;serializer:json"`
	Error         *dag.ErrorDetails `gorm:"type:text;serializer:json"`
	CreatedAt     time.Time         `gorm:"index"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

func (ExecutionRecord) TableName() string { return "executions" }

// StepRecord is the stored form of a dag.Step. (execution_id, step_index)
// is unique.
type StepRecord struct {
	ID          uint       `gorm:"primaryKey"`
	ExecutionID string     `gorm:"size:64;not null;uniqueIndex:idx_steps_execution_index,priority:1"`
	StepIndex   int        `gorm:"not null;uniqueIndex:idx_steps_execution_index,priority:2"`
	NodeID      string     `gorm:"size:128;not null"`
	NodeType    string     `gorm:"size:16;not null"`
	Status      string     `gorm:"size:16;not null"`
	Input       any        `gorm:"type:text;serializer:json"`
	Output      any        `gorm:"type:text;serializer:json"`
	Error       string     `gorm:"type:text"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMS  int64
	RetryCount  int
	Iteration   int
	Branch      string `gorm:"size:128"`
	UpdatedAt   time.Time
}

func (StepRecord) TableName() string { return "execution_steps" }

// Models returns the GORM models owned by the recorder, for migration.
func Models() []interface{} {
	return []interface{}{&ExecutionRecord{}, &StepRecord{}}
}

func executionRecord(e *dag.Execution) *ExecutionRecord {
	return &ExecutionRecord{
		ID:            e.ID,
		TaskID:        e.TaskID,
		UserID:        e.UserID,
		SchemaID:      e.SchemaID,
		SchemaVersion: e.SchemaVersion,
		Mode:          string(e.Mode),
		Status:        string(e.Status),
		Input:         e.Input,
		Output:        e.Output,
		Variables:     e.Variables,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
	}
}

func (r *ExecutionRecord) execution() *dag.Execution {
	return &dag.Execution{
		ID:            r.ID,
		TaskID:        r.TaskID,
		UserID:        r.UserID,
		SchemaID:      r.SchemaID,
		SchemaVersion: r.SchemaVersion,
		Mode:          dag.Mode(r.Mode),
		Status:        dag.Status(r.Status),
		Input:         r.Input,
		Output:        r.Output,
		Variables:     r.Variables,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func stepRecord(s *dag.Step) *StepRecord {
	return &StepRecord{
		ExecutionID: s.ExecutionID,
		StepIndex:   s.StepIndex,
		NodeID:      s.NodeID,
		NodeType:    string(s.NodeType),
		Status:      string(s.Status),
		Input:       s.Input,
		Output:      s.Output,
		Error:       s.Error,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		DurationMS:  s.DurationMS,
		RetryCount:  s.RetryCount,
		Iteration:   s.Iteration,
		Branch:      s.Branch,
	}
}

func (r *StepRecord) step() dag.Step {
	return dag.Step{
		ExecutionID: r.ExecutionID,
		StepIndex:   r.StepIndex,
		NodeID:      r.NodeID,
		NodeType:    schema.NodeType(r.NodeType),
		Status:      dag.Status(r.Status),
		Input:       r.Input,
		Output:      r.Output,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMS:  r.DurationMS,
		RetryCount:  r.RetryCount,
		Iteration:   r.Iteration,
		Branch:      r.Branch,
	}
}
