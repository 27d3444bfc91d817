package app

import (
	"context"
	"errors"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/observability"
)

// telemetry installs the OTLP tracer and meter providers for the lifetime
// of the app.
type telemetry struct {
	cfg    observability.Config
	res    observability.Resource
	log    *logger.Logger
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

var _ component.Component = (*telemetry)(nil)

func (t *telemetry) Name() string { return "telemetry" }

func (t *telemetry) Start(ctx context.Context) error {
	tp, err := observability.InitTracer(ctx, t.cfg, t.res, t.log)
	if err != nil {
		return err
	}
	t.tracer = tp
	mp, err := observability.InitMeter(ctx, t.cfg, t.res, t.log)
	if err != nil {
		return err
	}
	t.meter = mp
	return nil
}

func (t *telemetry) Stop(ctx context.Context) error {
	var errs []error
	if t.meter != nil {
		errs = append(errs, t.meter.Shutdown(ctx))
	}
	if t.tracer != nil {
		errs = append(errs, t.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (t *telemetry) Health(context.Context) component.Health {
	if t.tracer == nil {
		return component.Health{Name: t.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	return component.Health{Name: t.Name(), Status: component.StatusHealthy}
}
