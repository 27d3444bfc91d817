// Package httpclient is the outbound HTTP client shared by callback delivery
// and remote processors.
//
// A Client resolves request paths against a base URL, applies default
// headers and JSON-encodes bodies. Non-2xx replies are classified into
// *Error values with a retryable flag; Do retries the retryable ones with
// the configured backoff and, when configured, runs every attempt through a
// circuit breaker. Post decodes a JSON reply into a typed value.
//
//	c, err := httpclient.New(httpclient.Config{
//	    BaseURL: "http://processor:9000",
//	    Retry:   &retry,
//	})
//	resp, err := httpclient.Post[dag.NodeResult](ctx, c, "/process", req)
package httpclient
