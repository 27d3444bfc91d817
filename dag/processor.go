package dag

import (
	"context"
	"time"
)

// NodeRequest is what a transform node hands its processor.
type NodeRequest struct {
	ExecutionID    string         `json:"execution_id"`
	TaskID         string         `json:"task_id"`
	NodeID         string         `json:"node_id"`
	StepIndex      int            `json:"step_index"`
	ProcessingType string         `json:"processing_type"`
	Params         map[string]any `json:"params,omitempty"`
	Input          map[string]any `json:"input"`
	Deadline       time.Time      `json:"deadline"`
	Async          bool           `json:"async"`
}

// NodeResult is a processor's answer. Pending means the processor accepted
// the work and will report completion through a callback.
type NodeResult struct {
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Pending  bool          `json:"pending,omitempty"`
	// Retries counts attempts the processor made beyond the first.
	Retries  int           `json:"retries,omitempty"`
}

// Processor performs the work behind a transform node.
type Processor interface {
	Process(ctx context.Context, req *NodeRequest) (*NodeResult, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req *NodeRequest) (*NodeResult, error)

func (f ProcessorFunc) Process(ctx context.Context, req *NodeRequest) (*NodeResult, error) {
	return f(ctx, req)
}

// EchoProcessor returns its input merged with its params. It backs mock
// mode.
type EchoProcessor struct{}

func (EchoProcessor) Process(_ context.Context, req *NodeRequest) (*NodeResult, error) {
	start := time.Now()
	out := make(map[string]any, len(req.Input)+len(req.Params))
	for k, v := range req.Input {
		out[k] = v
	}
	for k, v := range req.Params {
		out[k] = v
	}
	return &NodeResult{Success: true, Output: out, Duration: time.Since(start)}, nil
}
