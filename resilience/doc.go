// Package resilience holds the primitives used around outbound calls.
//
// Retry backs callback delivery and processor calls with linear or
// exponential backoff. Bulkhead caps concurrent processor invocations, and
// CircuitBreaker fails fast while a remote processor keeps failing.
package resilience
