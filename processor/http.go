package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/httpclient"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/resilience"
)

// Config binds one processing type to a remote service.
type Config struct {
	// URL receives the node request as a JSON POST.
	URL string `mapstructure:"url"`
	// Headers are added to every request, e.g. an API key.
	Headers map[string]string `mapstructure:"headers"`
	// MaxAttempts bounds delivery attempts on transport errors and 5xx.
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	// BreakerFailures failed calls in a row open the circuit; while open,
	// nodes fail without contacting the service for BreakerCooldown.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// HTTP forwards transform work to a remote service. A 200 reply carries a
// dag.NodeResult; a 202 reply accepts the work, which completes later
// through a callback. A 4xx reply fails the node; transport errors and 5xx
// are retried and then fail the step.
type HTTP struct {
	name   string
	client *httpclient.Client
	log    *logger.Logger
}

var _ dag.Processor = (*HTTP)(nil)

// NewHTTP creates a processor for processingType. The node timeout bounds
// each call, so the client sets none of its own.
func NewHTTP(processingType string, cfg Config, log *logger.Logger) (*HTTP, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("processor").WithFields(logger.Fields("processing_type", processingType))
	retry := resilience.LinearRetryConfig(cfg.MaxAttempts, cfg.Backoff)
	client, err := httpclient.New(httpclient.Config{
		BaseURL: cfg.URL,
		Headers: cfg.Headers,
		Retry:   &retry,
		CircuitBreaker: &resilience.CircuitBreakerConfig{
			Name:        processingType,
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerCooldown,
			OnStateChange: func(_ string, from, to resilience.State) {
				log.Warn("processor circuit changed state", logger.Fields("from", from.String(), "to", to.String()))
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &HTTP{name: processingType, client: client, log: log}, nil
}

func (p *HTTP) Process(ctx context.Context, req *dag.NodeRequest) (*dag.NodeResult, error) {
	start := time.Now()
	resp, err := httpclient.Post[dag.NodeResult](ctx, p.client, "", req,
		httpclient.WithOnRetry(func(attempt int, err error, backoff time.Duration) {
			p.log.Warn("processor call failed, retrying", logger.Fields(
				logger.FieldTaskID, req.TaskID, "step_index", req.StepIndex, "attempt", attempt,
				"backoff", backoff.String(), logger.FieldError, err.Error()))
		}))
	switch {
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		return nil, errors.ServiceUnavailable(p.name).WithCause(err)
	case err != nil && !httpclient.IsRetryable(err) && httpclient.StatusCode(err) >= 400 && httpclient.StatusCode(err) < 500:
		return &dag.NodeResult{
			Success: false,
			Error:   fmt.Sprintf("processor rejected the request with status %d", httpclient.StatusCode(err)),
		}, nil
	case err != nil:
		return nil, httpclient.ToAppError(p.name, err)
	}

	if resp.StatusCode == http.StatusAccepted {
		return &dag.NodeResult{Pending: true, Retries: resp.Attempts - 1}, nil
	}
	res := resp.Data
	res.Retries = resp.Attempts - 1
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return &res, nil
}
