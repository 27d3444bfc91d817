package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNew_DerivesRetryable(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
	}{
		{ErrCodeTimeout, true},
		{ErrCodeNodeTimeout, true},
		{ErrCodeDatabaseError, true},
		{ErrCodeNotFound, false},
		{ErrCodeQuotaInsufficient, false},
		{ErrCodeInvalidSignature, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "msg", http.StatusTeapot)
			if err.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, err.Retryable)
			}
			if err.HTTPStatus != http.StatusTeapot {
				t.Errorf("expected status %d, got %d", http.StatusTeapot, err.HTTPStatus)
			}
		})
	}
}

func TestNotFound_EmptyID(t *testing.T) {
	err := NotFound("execution", "")
	if _, ok := err.Details["id"]; ok {
		t.Error("expected no id detail when id is empty")
	}
	if err.Details["resource"] != "execution" {
		t.Errorf("expected resource=execution, got %v", err.Details["resource"])
	}
}

func TestQuotaInsufficient(t *testing.T) {
	err := QuotaInsufficient(50, 10)
	if err.HTTPStatus != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", err.HTTPStatus)
	}
	if err.Details["requested"] != int64(50) || err.Details["available"] != int64(10) {
		t.Errorf("unexpected details: %v", err.Details)
	}
}

func TestNodeFailed_HidesInternals(t *testing.T) {
	cause := fmt.Errorf("ffmpeg exited with status 1")
	err := NodeFailed("transcode", cause)
	if strings.Contains(err.Message, "ffmpeg") {
		t.Errorf("message leaks cause: %q", err.Message)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if err.Details["node_id"] != "transcode" {
		t.Errorf("expected node_id detail, got %v", err.Details["node_id"])
	}
}

func TestAppError_ErrorString(t *testing.T) {
	err := Conflict("already running")
	if got := err.Error(); got != "CONFLICT: already running" {
		t.Errorf("unexpected error string %q", got)
	}
	err.WithCause(fmt.Errorf("boom"))
	if !strings.Contains(err.Error(), "cause: boom") {
		t.Errorf("expected cause in error string, got %q", err.Error())
	}
}

func TestAsAppError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", QuotaInsufficient(1, 0))
	appErr, ok := AsAppError(wrapped)
	if !ok {
		t.Fatal("expected AppError in chain")
	}
	if appErr.Code != ErrCodeQuotaInsufficient {
		t.Errorf("expected QUOTA_INSUFFICIENT, got %s", appErr.Code)
	}
	if !HasCode(wrapped, ErrCodeQuotaInsufficient) {
		t.Error("HasCode should match wrapped code")
	}
	if HasCode(fmt.Errorf("plain"), ErrCodeQuotaInsufficient) {
		t.Error("HasCode should not match a plain error")
	}
}

func TestToResponse(t *testing.T) {
	resp := SchemaInvalid("cycle detected").WithDetail("nodes", []string{"a", "b"}).ToResponse()
	if resp.Error.Code != ErrCodeSchemaInvalid {
		t.Errorf("expected SCHEMA_INVALID, got %s", resp.Error.Code)
	}
	if resp.Error.Message != "cycle detected" {
		t.Errorf("unexpected message %q", resp.Error.Message)
	}
	if resp.Error.Details["nodes"] == nil {
		t.Error("expected details to be carried")
	}
}
