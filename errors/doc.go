// Package errors defines the structured error type shared by every taskflow
// package: a machine-readable code, a user-facing message, an HTTP status,
// retryability and optional details. Messages never carry internal detail;
// the wrapped cause does.
package errors
