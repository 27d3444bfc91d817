package callback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/httpclient"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/resilience"
)

// NotifierConfig configures the sending side of callbacks.
type NotifierConfig struct {
	// BaseURL is where the gateway's routes are mounted.
	BaseURL     string        `mapstructure:"base_url"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (c *NotifierConfig) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Notifier signs and posts callbacks to a gateway. Transport errors, 5xx
// and 404 (the step may not be suspended yet) are retried with linear
// backoff; other rejections are final.
type Notifier struct {
	signer *Signer
	client *httpclient.Client
	log    *logger.Logger
}

func NewNotifier(cfg NotifierConfig, signer *Signer, log *logger.Logger) (*Notifier, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	retry := resilience.LinearRetryConfig(cfg.MaxAttempts, cfg.Backoff)
	client, err := httpclient.New(httpclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Retry:   &retry,
		RetryIf: func(err error) bool {
			return httpclient.IsRetryable(err) || httpclient.IsNotFound(err)
		},
	})
	if err != nil {
		return nil, errors.InvalidInput("callback.notifier", err.Error())
	}
	return &Notifier{
		signer: signer,
		client: client,
		log:    log.WithComponent("callback-notifier"),
	}, nil
}

// Notify reports sig for a suspended step.
func (n *Notifier) Notify(ctx context.Context, taskID string, stepIndex int, sig dag.Signal) error {
	_, err := n.client.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("/callbacks/%s/steps/%d", taskID, stepIndex),
		Headers: n.signer.SignedHeaders(taskID, stepIndex),
		Body:    sig,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			n.log.Warn("callback delivery failed, retrying", logger.Fields(
				logger.FieldTaskID, taskID, "step_index", stepIndex, "attempt", attempt,
				"backoff", backoff.String(), logger.FieldError, err.Error()))
		},
	})
	if err != nil {
		return httpclient.ToAppError("callback gateway", err)
	}
	return nil
}
