package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// WithDetail sets a single detail and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError, deriving retryability from the code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

func ServiceUnavailable(service string) *AppError {
	return New(ErrCodeServiceUnavailable, fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		http.StatusServiceUnavailable).WithDetail("service", service)
}

func ConnectionFailed(service string) *AppError {
	return New(ErrCodeConnectionFailed, fmt.Sprintf("Unable to connect to %s.", service),
		http.StatusServiceUnavailable).WithDetail("service", service)
}

func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, "The request took too long. Please try again.",
		http.StatusGatewayTimeout).WithDetail("operation", operation)
}

// NotFound reports a missing resource. id is omitted from details when empty.
func NotFound(resource, id string) *AppError {
	e := New(ErrCodeNotFound, fmt.Sprintf("The requested %s was not found.", resource), http.StatusNotFound).
		WithDetail("resource", resource)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("A %s with these details already exists.", resource),
		http.StatusConflict).WithDetail("resource", resource)
}

func Conflict(reason string) *AppError {
	return New(ErrCodeConflict, reason, http.StatusConflict)
}

func InvalidInput(field, reason string) *AppError {
	e := New(ErrCodeInvalidInput, fmt.Sprintf("Invalid input: %s", reason), http.StatusBadRequest)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func MissingField(field string) *AppError {
	return New(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field),
		http.StatusBadRequest).WithDetail("field", field)
}

// SchemaInvalid reports a pipeline schema rejected before execution.
func SchemaInvalid(message string) *AppError {
	return New(ErrCodeSchemaInvalid, message, http.StatusUnprocessableEntity)
}

func Unauthorized(reason string) *AppError {
	if reason == "" {
		reason = "Authentication required."
	}
	return New(ErrCodeUnauthorized, reason, http.StatusUnauthorized)
}

func InvalidToken() *AppError {
	return New(ErrCodeInvalidToken, "Invalid authentication token.", http.StatusUnauthorized)
}

func RateLimited() *AppError {
	e := New(ErrCodeRateLimited, "Too many requests. Please slow down.", http.StatusTooManyRequests)
	e.Retryable = true
	return e
}

func InvalidSignature() *AppError {
	return New(ErrCodeInvalidSignature, "Callback signature does not match.", http.StatusUnauthorized)
}

func StaleCallback(age string) *AppError {
	return New(ErrCodeStaleCallback, "Callback timestamp is outside the accepted window.",
		http.StatusUnauthorized).WithDetail("age", age)
}

// NodeFailed reports a failed processing step. The node id goes to details
// so the user-facing message stays generic.
func NodeFailed(nodeID string, cause error) *AppError {
	return New(ErrCodeNodeFailed, "A processing step failed.", http.StatusInternalServerError).
		WithDetail("node_id", nodeID).WithCause(cause)
}

func NodeTimeout(nodeID string) *AppError {
	return New(ErrCodeNodeTimeout, "A processing step timed out.", http.StatusGatewayTimeout).
		WithDetail("node_id", nodeID)
}

func Cancelled() *AppError {
	return New(ErrCodeCancelled, "The execution was cancelled.", http.StatusConflict)
}

// QuotaInsufficient reports a reservation larger than the user's balance.
func QuotaInsufficient(requested, available int64) *AppError {
	return New(ErrCodeQuotaInsufficient, "Insufficient balance for this task.", http.StatusPaymentRequired).
		WithDetails(map[string]any{"requested": requested, "available": available})
}

func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred. Please try again or contact support.",
		http.StatusInternalServerError).WithCause(cause)
}

func DatabaseError(cause error) *AppError {
	return New(ErrCodeDatabaseError, "A database error occurred. Please try again.",
		http.StatusInternalServerError).WithCause(cause)
}

func ExternalServiceError(service string, cause error) *AppError {
	return New(ErrCodeExternalService, fmt.Sprintf("The %s service encountered an error. Please try again.", service),
		http.StatusBadGateway).WithDetail("service", service).WithCause(cause)
}
