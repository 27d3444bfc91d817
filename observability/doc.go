// Package observability wires OpenTelemetry tracing and metrics.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, cfg, res, log)
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanNode)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, cfg, res, log)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("taskflow"))
//	metrics.RecordExecutionEnd(ctx, "resize-video", "completed", duration)
package observability
