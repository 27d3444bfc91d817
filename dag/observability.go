package dag

import (
	"context"
	"time"

	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/observability"
)

// WithTracing wraps a Behavior with OpenTelemetry span creation.
// Each visit creates a span named "{prefix}.{nodeType}".
func WithTracing(b Behavior, prefix string) Behavior {
	return &tracingBehavior{inner: b, prefix: prefix}
}

type tracingBehavior struct {
	inner  Behavior
	prefix string
}

func (t *tracingBehavior) Execute(ctx context.Context, inv *Invocation) (any, error) {
	ctx, span := observability.StartSpan(ctx, t.prefix+"."+string(inv.Node.Type))
	defer span.End()

	observability.SetSpanAttribute(ctx, "taskflow.node_id", inv.Node.ID)
	observability.SetSpanAttribute(ctx, "taskflow.execution_id", inv.Execution().ID)
	observability.SetSpanAttribute(ctx, "taskflow.step_index", inv.StepIndex)

	out, err := t.inner.Execute(ctx, inv)
	if err != nil {
		observability.SetSpanError(ctx, err)
	}
	return out, err
}

// WithMetrics wraps a Behavior with operation metrics keyed by node type.
func WithMetrics(b Behavior, metrics *observability.Metrics) Behavior {
	return &metricsBehavior{inner: b, metrics: metrics}
}

type metricsBehavior struct {
	inner   Behavior
	metrics *observability.Metrics
}

func (m *metricsBehavior) Execute(ctx context.Context, inv *Invocation) (any, error) {
	start := time.Now()
	out, err := m.inner.Execute(ctx, inv)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		m.metrics.RecordError(ctx, "node", string(inv.Node.Type))
	}
	m.metrics.RecordOperation(ctx, string(inv.Node.Type), "dag.node", status, duration)
	return out, err
}

// WithLogging wraps a Behavior with per-visit logging.
func WithLogging(b Behavior, log *logger.Logger) Behavior {
	return &loggingBehavior{inner: b, log: log}
}

type loggingBehavior struct {
	inner Behavior
	log   *logger.Logger
}

func (l *loggingBehavior) Execute(ctx context.Context, inv *Invocation) (any, error) {
	start := time.Now()
	out, err := l.inner.Execute(ctx, inv)

	fields := map[string]interface{}{
		logger.FieldNodeID:    inv.Node.ID,
		logger.FieldNodeType:  string(inv.Node.Type),
		logger.FieldStepIndex: inv.StepIndex,
		logger.FieldDuration:  time.Since(start).String(),
	}
	if inv.Iteration >= 0 {
		fields["iteration"] = inv.Iteration
	}
	if inv.Branch != "" {
		fields["branch"] = inv.Branch
	}
	if err != nil {
		fields[logger.FieldError] = err.Error()
		l.log.Error("node failed", fields)
	} else {
		l.log.Debug("node completed", fields)
	}
	return out, err
}
