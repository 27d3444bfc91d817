package task

import (
	"context"
	"time"

	"github.com/kbukum/taskflow/dag"
)

// Lifecycle event types.
const (
	EventStarted   = "execution.started"
	EventCompleted = "execution.completed"
	EventFailed    = "execution.failed"
	EventCancelled = "execution.cancelled"
)

// Event is a lifecycle notification, keyed by task id on the wire.
type Event struct {
	Type        string            `json:"type"`
	TaskID      string            `json:"task_id"`
	ExecutionID string            `json:"execution_id"`
	UserID      string            `json:"user_id"`
	SchemaID    string            `json:"schema_id"`
	Status      dag.Status        `json:"status"`
	Error       *dag.ErrorDetails `json:"error,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Publisher sends JSON messages to a topic. *kafka.Producer satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}, headers map[string]string) error
}

func eventFor(exec *dag.Execution, typ string) Event {
	return Event{
		Type:        typ,
		TaskID:      exec.TaskID,
		ExecutionID: exec.ID,
		UserID:      exec.UserID,
		SchemaID:    exec.SchemaID,
		Status:      exec.Status,
		Error:       exec.Error,
		Timestamp:   time.Now().UTC(),
	}
}

func terminalEvent(s dag.Status) string {
	switch s {
	case dag.StatusCompleted:
		return EventCompleted
	case dag.StatusCancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}
