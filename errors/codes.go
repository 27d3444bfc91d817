package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Availability errors
const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
)

// Resource errors
const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"
)

// Validation errors
const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeSchemaInvalid marks a pipeline schema that failed structural validation.
	ErrCodeSchemaInvalid ErrorCode = "SCHEMA_INVALID"
)

// Authentication errors
const (
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	// ErrCodeInvalidSignature marks a callback whose HMAC does not verify.
	ErrCodeInvalidSignature ErrorCode = "CALLBACK_INVALID_SIGNATURE"
	// ErrCodeStaleCallback marks a callback whose timestamp is outside the tolerance window.
	ErrCodeStaleCallback ErrorCode = "CALLBACK_STALE"
)

// Execution errors
const (
	ErrCodeNodeFailed  ErrorCode = "NODE_FAILED"
	ErrCodeNodeTimeout ErrorCode = "NODE_TIMEOUT"
	ErrCodeCancelled   ErrorCode = "EXECUTION_CANCELLED"
	// ErrCodeQuotaInsufficient is returned when a reservation exceeds the available balance.
	ErrCodeQuotaInsufficient ErrorCode = "QUOTA_INSUFFICIENT"
)

// Internal errors
const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeNodeTimeout:        true,
	ErrCodeDatabaseError:      true,
	ErrCodeExternalService:    true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
