package dag

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/taskflow/condition"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/resilience"
	"github.com/kbukum/taskflow/schema"
)

// Config tunes the scheduler.
type Config struct {
	// MaxParallel limits concurrent nodes per level and concurrent branches
	// of an "all" parallel node (0 = unlimited).
	MaxParallel int `mapstructure:"max_parallel"`
	// DefaultNodeTimeout applies to transforms without timeout_ms.
	DefaultNodeTimeout time.Duration `mapstructure:"default_node_timeout"`
	// MaxConcurrentProcessors caps in-flight processor calls across all
	// executions of one scheduler.
	MaxConcurrentProcessors int `mapstructure:"max_concurrent_processors"`
}

func (c *Config) ApplyDefaults() {
	if c.DefaultNodeTimeout <= 0 {
		c.DefaultNodeTimeout = 30 * time.Second
	}
	if c.MaxConcurrentProcessors <= 0 {
		c.MaxConcurrentProcessors = 64
	}
}

func (c *Config) Validate() error {
	if c.MaxParallel < 0 {
		return fmt.Errorf("engine: max_parallel must be >= 0")
	}
	return nil
}

// Recorder persists executions and steps as the scheduler drives them.
type Recorder interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	RecordStep(ctx context.Context, step *Step) error
}

// Scheduler executes validated schemas.
type Scheduler struct {
	cfg      Config
	registry *Registry
	recorder Recorder
	pending  *PendingSteps
	bulkhead *resilience.Bulkhead
	log      *logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPendingSteps shares a pending-step registry, e.g. with a callback
// gateway created first.
func WithPendingSteps(p *PendingSteps) Option {
	return func(s *Scheduler) { s.pending = p }
}

// NewScheduler creates a scheduler. A nil recorder discards records.
func NewScheduler(cfg Config, registry *Registry, recorder Recorder, log *logger.Logger, opts ...Option) *Scheduler {
	cfg.ApplyDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		recorder: recorder,
		pending:  NewPendingSteps(),
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "processors",
			MaxConcurrent: cfg.MaxConcurrentProcessors,
			MaxWait:       -1,
		}),
		log: log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Registry() *Registry { return s.registry }

// Pending returns the registry callbacks are delivered to.
func (s *Scheduler) Pending() *PendingSteps { return s.pending }

func (s *Scheduler) processorFor(mode Mode, processingType string) (Processor, error) {
	if mode == ModeMock {
		return s.registry.MockProcessor(), nil
	}
	p, ok := s.registry.Processor(processingType)
	if !ok {
		return nil, errors.InvalidInput("processing_type", fmt.Sprintf("no processor registered for %q", processingType))
	}
	return p, nil
}

// NodeError attributes a failure to the node that raised it.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.NodeID, e.Err) }

func (e *NodeError) Unwrap() error { return e.Err }

// Code returns the error code carried by the cause, or NODE_FAILED.
func (e *NodeError) Code() string {
	if appErr, ok := errors.AsAppError(e.Err); ok {
		return string(appErr.Code)
	}
	return string(errors.ErrCodeNodeFailed)
}

// Message returns a message safe to show users.
func (e *NodeError) Message() string {
	if appErr, ok := errors.AsAppError(e.Err); ok {
		if appErr.Cause != nil {
			return appErr.Message + " " + appErr.Cause.Error()
		}
		return appErr.Message
	}
	return e.Err.Error()
}

func asNodeError(err error, target **NodeError) bool {
	return stderrors.As(err, target)
}

// run is the state of one execution.
type run struct {
	s     *Scheduler
	exec  *Execution
	graph *schema.Graph
	ctx   context.Context
	log   *logger.Logger

	steps    atomic.Int64
	detached sync.WaitGroup

	mu      sync.Mutex
	outputs map[string]any
}

// Run drives exec through the schema to a terminal status and records it.
// An exec without an id is assigned one and created in the recorder;
// otherwise the caller has created it. The returned error is nil exactly
// when the execution completed.
func (s *Scheduler) Run(ctx context.Context, exec *Execution, ps *schema.PipelineSchema) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
		exec.Status = StatusPending
		if exec.CreatedAt.IsZero() {
			exec.CreatedAt = time.Now().UTC()
		}
		if err := s.recorder.CreateExecution(ctx, exec); err != nil {
			return err
		}
	}
	if exec.Mode == "" {
		exec.Mode = ModeReal
	}
	exec.SchemaID, exec.SchemaVersion = ps.ID, ps.Version

	log := s.log.WithFields(map[string]interface{}{
		logger.FieldExecutionID: exec.ID,
		logger.FieldTaskID:      exec.TaskID,
	})

	graph, err := schema.Compile(ps)
	if err != nil {
		s.finish(ctx, exec, err, log)
		return err
	}

	started := time.Now().UTC()
	exec.Status = StatusRunning
	exec.StartedAt = &started
	if err := s.recorder.UpdateExecution(ctx, exec); err != nil {
		log.Warn("recording execution start failed", logger.ErrorFields("record_execution", err))
	}
	log.Info("execution started", map[string]interface{}{"schema_id": ps.ID, "mode": string(exec.Mode)})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &run{
		s:       s,
		exec:    exec,
		graph:   graph,
		ctx:     runCtx,
		log:     log,
		outputs: make(map[string]any),
	}
	st := NewState(exec.Input)

	runErr := r.runLevels(runCtx, st)
	r.detached.Wait()

	exec.Variables = st.Snapshot()
	if runErr == nil {
		exec.Output = r.outputs
	}
	if runErr != nil && ctx.Err() != nil {
		runErr = errors.Cancelled().WithCause(ctx.Err())
	}
	s.finish(ctx, exec, runErr, log)
	return runErr
}

// finish writes the terminal status. It records with a context detached
// from cancellation so a cancelled run still lands.
func (s *Scheduler) finish(ctx context.Context, exec *Execution, runErr error, log *logger.Logger) {
	now := time.Now().UTC()
	exec.CompletedAt = &now
	switch {
	case runErr == nil:
		exec.Status = StatusCompleted
		exec.Error = nil
	case errors.HasCode(runErr, errors.ErrCodeCancelled):
		exec.Status = StatusCancelled
		exec.Error = &ErrorDetails{Code: string(errors.ErrCodeCancelled), Message: "The execution was cancelled."}
	default:
		exec.Status = StatusFailed
		exec.Error = errorDetails(runErr)
	}

	fields := map[string]interface{}{logger.FieldStatus: string(exec.Status)}
	if exec.StartedAt != nil {
		fields[logger.FieldDuration] = now.Sub(*exec.StartedAt).String()
	}
	if exec.Error != nil {
		fields["failed_node_id"] = exec.Error.FailedNodeID
		fields[logger.FieldError] = exec.Error.Message
	}
	log.Info("execution finished", fields)

	if err := s.recorder.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		log.Error("recording execution result failed", logger.ErrorFields("record_execution", err))
	}
}

func errorDetails(err error) *ErrorDetails {
	var ne *NodeError
	if asNodeError(err, &ne) {
		return &ErrorDetails{FailedNodeID: ne.NodeID, Code: ne.Code(), Message: ne.Message()}
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return &ErrorDetails{Code: string(appErr.Code), Message: appErr.Error()}
	}
	return &ErrorDetails{Code: string(errors.ErrCodeInternal), Message: err.Error()}
}

func (r *run) addOutput(out map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range out {
		r.outputs[k] = v
	}
}

// runLevels visits the top-level nodes level by level. Nodes of one level
// run concurrently; the first failure cancels the rest of its level.
func (r *run) runLevels(ctx context.Context, st *State) error {
	for _, level := range r.graph.Levels() {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		if r.s.cfg.MaxParallel > 0 {
			g.SetLimit(r.s.cfg.MaxParallel)
		}
		for _, id := range level {
			g.Go(func() error {
				return r.runNode(gctx, id, st, -1, "")
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// runSequence visits ids one after another inside st.
func (r *run) runSequence(ctx context.Context, ids []string, st *State, iteration int, branch string) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runNode(ctx, id, st, iteration, branch); err != nil {
			return err
		}
	}
	return nil
}

// active reports whether a node should run: it has no dependencies, or at
// least one of them is active. A condition that ran gates its branch
// targets regardless of their other dependencies: the untaken branch never
// runs. Dependencies on nodes that have not run in any visible scope are
// loop back-references and do not gate the node.
func (r *run) active(id string, st *State) bool {
	deps := r.graph.Deps(id)
	for _, d := range deps {
		if st.Status(d.Source) == "" || !r.graph.IsBranchTarget(d.Source, id) {
			continue
		}
		if !r.branchTaken(d.Source, id, st) {
			return false
		}
	}
	considered := 0
	for _, d := range deps {
		if st.Status(d.Source) == "" {
			continue
		}
		considered++
		if r.depActive(id, d, st) {
			return true
		}
	}
	return considered == 0
}

func (r *run) depActive(id string, d schema.Dependency, st *State) bool {
	if st.Status(d.Source) != StatusCompleted {
		return false
	}
	if d.Edge != nil && d.Edge.Condition != nil && !condition.Evaluate(d.Edge.Condition, st) {
		return false
	}
	if r.graph.IsBranchTarget(d.Source, id) {
		return r.branchTaken(d.Source, id, st)
	}
	return true
}

// branchTaken reports whether the condition node source completed and
// selected id.
func (r *run) branchTaken(source, id string, st *State) bool {
	if st.Status(source) != StatusCompleted {
		return false
	}
	out, _ := st.Output(source)
	m, _ := out.(map[string]any)
	result, _ := m["result"].(bool)
	cfg := r.graph.Node(source).Condition()
	return (result && cfg.TrueBranch == id) || (!result && cfg.FalseBranch == id)
}

// runNode records a step around one behavior call.
func (r *run) runNode(ctx context.Context, id string, st *State, iteration int, branch string) error {
	node := r.graph.Node(id)
	step := &Step{
		ExecutionID: r.exec.ID,
		StepIndex:   int(r.steps.Add(1)) - 1,
		NodeID:      id,
		NodeType:    node.Type,
		Iteration:   iteration,
		Branch:      branch,
	}
	log := r.log.WithFields(map[string]interface{}{
		logger.FieldNodeID:    id,
		logger.FieldNodeType:  string(node.Type),
		logger.FieldStepIndex: step.StepIndex,
	})

	if !r.active(id, st) {
		st.SetResult(id, StatusSkipped, nil)
		step.Status = StatusSkipped
		r.record(ctx, step, log)
		log.Debug("node skipped")
		return nil
	}

	behavior, ok := r.s.registry.Behavior(node.Type)
	if !ok {
		err := &NodeError{NodeID: id, Err: errors.InvalidInput("node_type", fmt.Sprintf("no behavior for %q", node.Type))}
		st.SetResult(id, StatusFailed, nil)
		return err
	}

	started := time.Now().UTC()
	step.Status = StatusRunning
	step.StartedAt = &started
	r.record(ctx, step, log)

	inv := &Invocation{Node: node, State: st, StepIndex: step.StepIndex, Iteration: iteration, Branch: branch, run: r}
	output, err := behavior.Execute(ctx, inv)

	completed := time.Now().UTC()
	step.CompletedAt = &completed
	step.DurationMS = completed.Sub(started).Milliseconds()
	step.Input = inv.Input
	step.RetryCount = inv.RetryCount

	if err != nil {
		var ne *NodeError
		if !asNodeError(err, &ne) {
			ne = &NodeError{NodeID: id, Err: err}
			err = ne
		}
		st.SetResult(id, StatusFailed, nil)
		step.Status = StatusFailed
		step.Error = err.Error()
		r.record(ctx, step, log)
		log.Warn("node failed", logger.ErrorFields("execute_node", err))
		return err
	}

	st.SetResult(id, StatusCompleted, output)
	step.Status = StatusCompleted
	step.Output = output
	r.record(ctx, step, log)
	log.Debug("node completed", logger.DurationFields("execute_node", completed.Sub(started)))
	return nil
}

func (r *run) record(ctx context.Context, step *Step, log *logger.Logger) {
	snapshot := *step
	if err := r.s.recorder.RecordStep(context.WithoutCancel(ctx), &snapshot); err != nil {
		log.Warn("recording step failed", logger.ErrorFields("record_step", err))
	}
}
