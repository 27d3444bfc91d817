package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kbukum/taskflow/resilience"
)

// Client sends JSON requests with retry and an optional circuit breaker.
type Client struct {
	httpClient *http.Client
	config     Config
	cb         *resilience.CircuitBreaker
}

func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		httpClient: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			Timeout:   cfg.Timeout,
		},
		config: cfg,
	}
	if cfg.CircuitBreaker != nil {
		c.cb = resilience.NewCircuitBreaker(*cfg.CircuitBreaker)
	}
	return c, nil
}

// Do sends req, retrying retryable errors when retry is configured. A
// classified non-2xx reply is returned together with its *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	attempts := 0
	send := func() (*Response, error) {
		attempts++
		resp, err := c.doOnce(ctx, req)
		if resp != nil {
			resp.Attempts = attempts
		}
		return resp, err
	}
	if c.config.Retry == nil {
		return send()
	}

	retry := *c.config.Retry
	retry.RetryIf = func(err error) bool {
		return resilience.DefaultRetryIf(err) && c.config.RetryIf(err)
	}
	if req.OnRetry != nil {
		retry.OnRetry = req.OnRetry
	}
	var last *Response
	resp, err := resilience.Retry(ctx, retry, func() (*Response, error) {
		r, err := send()
		last = r
		return r, err
	})
	if err != nil {
		return last, err
	}
	return resp, nil
}

// doOnce sends one attempt, through the circuit breaker when configured.
func (c *Client) doOnce(ctx context.Context, req Request) (*Response, error) {
	if c.cb == nil {
		return c.execute(ctx, req)
	}
	var resp *Response
	var rejected error
	err := c.cb.Execute(func() error {
		r, err := c.execute(ctx, req)
		resp = r
		if err != nil && !IsRetryable(err) {
			rejected = err
			return nil
		}
		return err
	})
	if err != nil {
		return resp, err
	}
	return resp, rejected
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			return nil, NewTimeoutError(err)
		}
		return nil, NewConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		return nil, NewConnectionError(fmt.Errorf("read response body: %w", err))
	}
	result := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       body,
	}
	if classErr := ClassifyStatusCode(resp.StatusCode, body); classErr != nil {
		return result, classErr
	}
	return result, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := req.Path
	switch {
	case url == "":
		url = c.config.BaseURL
	case c.config.BaseURL != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://"):
		url = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(url, "/")
	}

	var body io.Reader
	switch v := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("httpclient: encode body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("httpclient: create request: %w", err))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
