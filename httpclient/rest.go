package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TypedResponse is a reply whose JSON body was decoded into Data.
type TypedResponse[T any] struct {
	StatusCode int
	Headers    map[string]string
	Attempts   int
	Data       T
}

// RequestOption adjusts a request before it is sent.
type RequestOption func(*Request)

func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

func WithHeaders(headers map[string]string) RequestOption {
	return func(r *Request) {
		for k, v := range headers {
			WithHeader(k, v)(r)
		}
	}
}

// WithOnRetry installs a callback run before each retry.
func WithOnRetry(fn func(attempt int, err error, backoff time.Duration)) RequestOption {
	return func(r *Request) { r.OnRetry = fn }
}

// Post sends body as JSON and decodes a non-empty 2xx reply into T.
func Post[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*TypedResponse[T], error) {
	return doTyped[T](ctx, c, http.MethodPost, path, body, opts)
}

// Get decodes a non-empty 2xx reply into T.
func Get[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (*TypedResponse[T], error) {
	return doTyped[T](ctx, c, http.MethodGet, path, nil, opts)
}

func doTyped[T any](ctx context.Context, c *Client, method, path string, body any, opts []RequestOption) (*TypedResponse[T], error) {
	req := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&req)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &TypedResponse[T]{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Attempts:   resp.Attempts,
	}
	if len(resp.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out.Data); err != nil {
		return out, &Error{
			StatusCode: resp.StatusCode,
			Code:       ErrCodeDecode,
			Message:    fmt.Sprintf("decode response: %v", err),
			Body:       resp.Body,
			Err:        err,
		}
	}
	return out, nil
}
