package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/taskflow/logger"
)

// InitMeter installs a global meter provider exporting over OTLP HTTP.
// The provider should be shut down on exit.
func InitMeter(ctx context.Context, cfg Config, res Resource, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	r, err := newResource(res)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if cfg.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(r),
	)

	otel.SetMeterProvider(mp)

	log.Info("meter initialized", logger.Fields(
		"service", res.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.MetricInterval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	executionTotal    metric.Int64Counter
	executionActive   metric.Int64UpDownCounter
	executionDuration metric.Float64Histogram
	operationTotal    metric.Int64Counter
	operationDuration metric.Float64Histogram
	errorTotal        metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	executionTotal, err := meter.Int64Counter("taskflow.execution.total",
		metric.WithDescription("Executions finished, by terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating taskflow.execution.total counter: %w", err)
	}

	executionActive, err := meter.Int64UpDownCounter("taskflow.execution.active",
		metric.WithDescription("Executions currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating taskflow.execution.active gauge: %w", err)
	}

	executionDuration, err := meter.Float64Histogram("taskflow.execution.duration",
		metric.WithDescription("Duration of executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating taskflow.execution.duration histogram: %w", err)
	}

	operationTotal, err := meter.Int64Counter("taskflow.operation.total",
		metric.WithDescription("Total number of operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating taskflow.operation.total counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram("taskflow.operation.duration",
		metric.WithDescription("Duration of operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating taskflow.operation.duration histogram: %w", err)
	}

	errorTotal, err := meter.Int64Counter("taskflow.error.total",
		metric.WithDescription("Total errors by type and component"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating taskflow.error.total counter: %w", err)
	}

	return &Metrics{
		executionTotal:    executionTotal,
		executionActive:   executionActive,
		executionDuration: executionDuration,
		operationTotal:    operationTotal,
		operationDuration: operationDuration,
		errorTotal:        errorTotal,
	}, nil
}

// RecordExecutionStart increments the running execution count.
func (m *Metrics) RecordExecutionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.executionActive.Add(ctx, 1)
}

// RecordExecutionEnd decrements running executions and records the outcome.
func (m *Metrics) RecordExecutionEnd(ctx context.Context, schemaID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionActive.Add(ctx, -1)
	m.executionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schema_id", schemaID),
		attribute.String("status", status),
	))
	m.executionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("schema_id", schemaID),
	))
}

// RecordOperation records an operation execution.
func (m *Metrics) RecordOperation(ctx context.Context, component, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.operationTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
	))
}

// RecordError records an error by type and component.
func (m *Metrics) RecordError(ctx context.Context, errType, component string) {
	if m == nil {
		return
	}
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", errType),
		attribute.String("component", component),
	))
}
