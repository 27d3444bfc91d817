package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/schema"
)

// MockProcessor is a configurable test processor.
// It records requests and returns a preset output or error.
type MockProcessor struct {
	output any
	err    error
	fn     func(ctx context.Context, req *dag.NodeRequest) (*dag.NodeResult, error)

	mu       sync.Mutex
	requests []*dag.NodeRequest
}

var _ dag.Processor = (*MockProcessor)(nil)

// NewMockProcessor creates a processor that succeeds with output.
// If err is non-nil, the processor reports failure with its message.
func NewMockProcessor(output any, err error) *MockProcessor {
	return &MockProcessor{output: output, err: err}
}

// NewMockProcessorFunc creates a processor backed by a custom function.
func NewMockProcessorFunc(fn func(ctx context.Context, req *dag.NodeRequest) (*dag.NodeResult, error)) *MockProcessor {
	return &MockProcessor{fn: fn}
}

func (p *MockProcessor) Process(ctx context.Context, req *dag.NodeRequest) (*dag.NodeResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.fn != nil {
		return p.fn(ctx, req)
	}
	if p.err != nil {
		return &dag.NodeResult{Success: false, Error: p.err.Error()}, nil
	}
	return &dag.NodeResult{Success: true, Output: p.output}, nil
}

// Calls returns how many times Process was invoked.
func (p *MockProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns the received requests in arrival order.
func (p *MockProcessor) Requests() []*dag.NodeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*dag.NodeRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Reset clears the recorded requests.
func (p *MockProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = nil
}

// Harness bundles a scheduler with an in-memory recorder.
type Harness struct {
	Registry  *dag.Registry
	Recorder  *dag.MemoryRecorder
	Scheduler *dag.Scheduler
}

// NewHarness creates a scheduler with a fresh registry and recorder.
func NewHarness(cfg dag.Config) *Harness {
	reg := dag.NewRegistry()
	rec := dag.NewMemoryRecorder()
	return &Harness{
		Registry:  reg,
		Recorder:  rec,
		Scheduler: dag.NewScheduler(cfg, reg, rec, nil),
	}
}

// Register binds a processing type on the harness registry.
func (h *Harness) Register(processingType string, p dag.Processor) *Harness {
	h.Registry.RegisterProcessor(processingType, p)
	return h
}

// Run executes ps on input in real mode and returns the recorded execution.
func (h *Harness) Run(ctx context.Context, ps *schema.PipelineSchema, input map[string]any) (*dag.Execution, error) {
	exec := &dag.Execution{Input: input, Mode: dag.ModeReal}
	err := h.Scheduler.Run(ctx, exec, ps)
	return exec, err
}

// MustParse parses a JSON schema document or fails the test.
func MustParse(t testing.TB, doc string) *schema.PipelineSchema {
	t.Helper()
	ps, err := schema.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parsing schema: %v", err)
	}
	return ps
}
