package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/observability"
	"github.com/kbukum/taskflow/quota"
	"github.com/kbukum/taskflow/schema"
	"github.com/kbukum/taskflow/validation"
)

// Store is the persistence the service needs. *recorder.Store satisfies it.
type Store interface {
	dag.Recorder
	GetExecutionByTask(ctx context.Context, taskID string) (*dag.Execution, error)
}

// Request asks for one schema run on behalf of a user.
type Request struct {
	UserID string `json:"user_id"`
	// TaskID is generated when empty. It keys the reservation, the
	// execution and its callbacks.
	TaskID string                 `json:"task_id,omitempty"`
	Schema *schema.PipelineSchema `json:"schema"`
	Input  map[string]any         `json:"input"`
	Mode   dag.Mode               `json:"mode,omitempty"`
	// Cost is reserved before the run and confirmed only on success.
	Cost int64 `json:"cost"`
}

// Config tunes the service.
type Config struct {
	// EventsTopic receives lifecycle events when a publisher is set.
	EventsTopic string `mapstructure:"events_topic"`
	// FinalizeTimeout bounds the confirm/cancel after a run ends.
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
}

type run struct {
	exec     *dag.Execution
	reserved bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Service admits tasks: it reserves quota, records the execution, runs the
// scheduler in the background and settles the reservation exactly once
// when the run ends.
type Service struct {
	cfg       Config
	scheduler *dag.Scheduler
	ledger    *quota.Ledger
	store     Store
	publisher Publisher
	metrics   *observability.Metrics
	log       *logger.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*run
}

var _ component.Component = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes lifecycle events to cfg.EventsTopic.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(cfg Config, scheduler *dag.Scheduler, ledger *quota.Ledger, store Store, log *logger.Logger, opts ...Option) *Service {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Service{
		cfg:       cfg,
		scheduler: scheduler,
		ledger:    ledger,
		store:     store,
		log:       log.WithComponent("task"),
		ctx:       ctx,
		stop:      stop,
		active:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateRequest(req *Request) error {
	v := validation.New()
	v.Required("user_id", req.UserID)
	v.Check(req.Schema != nil, "schema", "is required")
	v.Check(req.Cost >= 0, "cost", "must not be negative")
	if req.Mode != "" {
		v.OneOf("mode", string(req.Mode), string(dag.ModeReal), string(dag.ModeMock))
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return req.Schema.Validate()
}

// Submit validates the request, reserves its cost and starts the run. The
// returned execution is a snapshot taken before the run starts. Insufficient
// balance fails the call and creates no execution.
func (s *Service) Submit(ctx context.Context, req Request) (*dag.Execution, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = dag.ModeReal
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	log := s.log.WithFields(logger.Fields(logger.FieldTaskID, req.TaskID, logger.FieldUserID, req.UserID))

	s.mu.Lock()
	if _, busy := s.active[req.TaskID]; busy {
		s.mu.Unlock()
		return nil, errors.Conflict("task is already running")
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, errors.ServiceUnavailable("task service")
	}
	r := &run{done: make(chan struct{})}
	s.active[req.TaskID] = r
	s.mu.Unlock()

	started := false
	defer func() {
		if !started {
			s.forget(req.TaskID)
		}
	}()

	if _, err := s.store.GetExecutionByTask(ctx, req.TaskID); err == nil {
		return nil, errors.Conflict("task already has an execution")
	} else if !errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	if req.Mode == dag.ModeReal && req.Cost > 0 {
		txn, err := s.ledger.Reserve(ctx, req.UserID, req.TaskID, req.Cost)
		if err != nil {
			return nil, err
		}
		if txn.Phase != quota.PhaseReserved {
			return nil, errors.Conflict("task reservation is already settled")
		}
		r.reserved = true
	}

	exec := &dag.Execution{
		ID:            uuid.NewString(),
		TaskID:        req.TaskID,
		UserID:        req.UserID,
		SchemaID:      req.Schema.ID,
		SchemaVersion: req.Schema.Version,
		Mode:          req.Mode,
		Status:        dag.StatusPending,
		Input:         req.Input,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		if r.reserved {
			s.release(context.WithoutCancel(ctx), req.TaskID, log)
		}
		return nil, err
	}
	snapshot := *exec

	runCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	r.exec, r.cancel = exec, cancel
	s.mu.Unlock()
	started = true
	s.wg.Add(1)
	go s.execute(runCtx, r, req.Schema, log)

	log.Info("task submitted", logger.Fields(logger.FieldExecutionID, exec.ID, "schema_id", req.Schema.ID, "cost", req.Cost))
	return &snapshot, nil
}

func (s *Service) execute(ctx context.Context, r *run, ps *schema.PipelineSchema, log *logger.Logger) {
	defer s.wg.Done()
	defer r.cancel()
	exec := r.exec

	s.metrics.RecordExecutionStart(ctx)
	s.publish(ctx, eventFor(exec, EventStarted), log)
	start := time.Now()

	_ = s.scheduler.Run(ctx, exec, ps)

	s.metrics.RecordExecutionEnd(context.WithoutCancel(ctx), exec.SchemaID, string(exec.Status), time.Since(start))
	s.finalize(context.WithoutCancel(ctx), r, log)
	s.publish(context.WithoutCancel(ctx), eventFor(exec, terminalEvent(exec.Status)), log)

	s.forget(exec.TaskID)
	close(r.done)
}

// finalize confirms the reservation of a completed run and cancels it for
// every other outcome.
func (s *Service) finalize(ctx context.Context, r *run, log *logger.Logger) {
	if !r.reserved {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FinalizeTimeout)
	defer cancel()

	taskID := r.exec.TaskID
	if r.exec.Status == dag.StatusCompleted {
		if _, err := s.ledger.Confirm(ctx, taskID); err != nil {
			log.Error("confirming reservation failed, left for reconciliation", logger.ErrorFields("confirm", err))
		}
		return
	}
	s.release(ctx, taskID, log)
}

func (s *Service) release(ctx context.Context, taskID string, log *logger.Logger) {
	if _, err := s.ledger.Cancel(ctx, taskID); err != nil {
		log.Error("cancelling reservation failed, left for reconciliation", logger.ErrorFields("cancel", err))
	}
}

func (s *Service) publish(ctx context.Context, ev Event, log *logger.Logger) {
	if s.publisher == nil || s.cfg.EventsTopic == "" {
		return
	}
	if err := s.publisher.PublishJSON(ctx, s.cfg.EventsTopic, ev.TaskID, ev, map[string]string{"type": ev.Type}); err != nil {
		log.Warn("publishing lifecycle event failed", logger.Fields("event", ev.Type, logger.FieldError, err.Error()))
	}
}

func (s *Service) forget(taskID string) {
	s.mu.Lock()
	delete(s.active, taskID)
	s.mu.Unlock()
}

func (s *Service) lookup(taskID string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.active[taskID]
	if ok && r.exec == nil {
		return nil, false
	}
	return r, ok
}

// Cancel stops a running task. Its reservation is released when the run
// unwinds. Cancelling a finished task returns a conflict.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	if r, ok := s.lookup(taskID); ok {
		r.cancel()
		s.log.Info("task cancellation requested", logger.Fields(logger.FieldTaskID, taskID))
		return nil
	}
	exec, err := s.store.GetExecutionByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return dag.ErrExecutionFinished
	}
	return errors.NotFound("running task", taskID)
}

// Wait blocks until the task's run ends and returns its execution.
func (s *Service) Wait(ctx context.Context, taskID string) (*dag.Execution, error) {
	if r, ok := s.lookup(taskID); ok {
		select {
		case <-r.done:
			exec := *r.exec
			return &exec, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.GetExecutionByTask(ctx, taskID)
}

// Liveness reports a task's state for the reconciliation sweep. A task with
// no terminal record that is not running in this process is unknown: the
// process that ran it is gone.
func (s *Service) Liveness(ctx context.Context, taskID string) (quota.Liveness, error) {
	if _, ok := s.lookup(taskID); ok {
		return quota.LivenessAlive, nil
	}
	exec, err := s.store.GetExecutionByTask(ctx, taskID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return quota.LivenessUnknown, nil
		}
		return "", err
	}
	switch exec.Status {
	case dag.StatusCompleted:
		return quota.LivenessCompleted, nil
	case dag.StatusFailed:
		return quota.LivenessFailed, nil
	case dag.StatusCancelled:
		return quota.LivenessCancelled, nil
	default:
		return quota.LivenessUnknown, nil
	}
}

// Running returns the number of tasks in flight.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Service) Name() string { return "task-service" }

func (s *Service) Start(context.Context) error { return nil }

// Stop cancels every running task and waits for them to settle or ctx to
// end.
func (s *Service) Stop(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Health(context.Context) component.Health {
	if s.ctx.Err() != nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: "stopped"}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}
