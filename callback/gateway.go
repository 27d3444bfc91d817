package callback

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/observability"
)

// Callback sources, used as a metrics label.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Envelope is one signed completion report for a suspended step.
type Envelope struct {
	TaskID    string     `json:"task_id"`
	StepIndex int        `json:"step_index"`
	Timestamp int64      `json:"timestamp"`
	Signature string     `json:"signature"`
	Signal    dag.Signal `json:"signal"`
}

// Key identifies the step the envelope reports on.
func (e Envelope) Key() string {
	return fmt.Sprintf("%s:%d", e.TaskID, e.StepIndex)
}

// Gateway verifies callbacks and forwards each one at most once to the
// step awaiting it.
type Gateway struct {
	signer  *Signer
	dedupe  DedupeStore
	pending *dag.PendingSteps
	metrics *Metrics
	log     *logger.Logger
}

// NewGateway creates a gateway. A nil dedupe store keeps claims in memory.
func NewGateway(signer *Signer, dedupe DedupeStore, pending *dag.PendingSteps, metrics *Metrics, log *logger.Logger) *Gateway {
	if dedupe == nil {
		dedupe = NewMemoryDedupe(0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Gateway{
		signer:  signer,
		dedupe:  dedupe,
		pending: pending,
		metrics: metrics,
		log:     log.WithComponent("callback-gateway"),
	}
}

// Accept verifies env and forwards its signal. It reports whether the
// signal was forwarded; a duplicate returns false with no error.
func (g *Gateway) Accept(ctx context.Context, env Envelope) (bool, error) {
	return g.accept(ctx, SourceHTTP, env)
}

func (g *Gateway) accept(ctx context.Context, source string, env Envelope) (bool, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanCallback+".accept")
	defer span.End()
	observability.SetSpanAttribute(ctx, "taskflow.task_id", env.TaskID)
	observability.SetSpanAttribute(ctx, "taskflow.step_index", env.StepIndex)

	fields := logger.Fields(logger.FieldTaskID, env.TaskID, "step_index", env.StepIndex, "source", source)

	if env.TaskID == "" {
		g.metrics.record(source, OutcomeRejected)
		return false, errors.MissingField("task_id")
	}
	if err := g.signer.Verify(env.TaskID, env.StepIndex, env.Timestamp, env.Signature); err != nil {
		g.metrics.record(source, OutcomeRejected)
		observability.SetSpanError(ctx, err)
		g.log.Warn("callback rejected", logger.ErrorFields("verify", err))
		return false, err
	}

	key := env.Key()
	first, err := g.dedupe.Claim(ctx, key)
	if err != nil {
		g.metrics.record(source, OutcomeError)
		observability.SetSpanError(ctx, err)
		return false, errors.ServiceUnavailable("callback dedupe store").WithCause(err)
	}
	if !first {
		g.metrics.record(source, OutcomeDuplicate)
		g.log.Debug("duplicate callback acknowledged", fields)
		return false, nil
	}

	if err := g.pending.Deliver(env.TaskID, env.StepIndex, env.Signal); err != nil {
		if relErr := g.dedupe.Release(context.WithoutCancel(ctx), key); relErr != nil {
			g.log.Error("releasing callback claim failed", logger.ErrorFields("dedupe_release", relErr))
		}
		if stderrors.Is(err, dag.ErrNoPendingStep) {
			g.metrics.record(source, OutcomeNoPending)
			g.log.Info("no step awaits callback", fields)
		} else {
			g.metrics.record(source, OutcomeError)
		}
		observability.SetSpanError(ctx, err)
		return false, err
	}

	g.metrics.record(source, OutcomeAccepted)
	fields["status"] = env.Signal.Status
	g.log.Info("callback forwarded", fields)
	return true, nil
}
