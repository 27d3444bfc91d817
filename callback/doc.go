// Package callback receives completion reports for asynchronous steps.
//
// A processor that answers a step with Pending later reports the result
// through the gateway, over HTTP or a Kafka topic. The gateway checks the
// HMAC signature and timestamp, claims the (task, step) key in a
// DedupeStore so a report is forwarded at most once, and hands the signal
// to the scheduler's dag.PendingSteps. When no step is waiting, the claim is
// released and the sender gets a 404 so it can retry.
//
// Notifier is the sending side: it signs a report and posts it with linear
// backoff.
package callback
