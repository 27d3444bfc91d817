package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/resilience"
)

func retryConfig(attempts int) *resilience.RetryConfig {
	cfg := resilience.LinearRetryConfig(attempts, time.Millisecond)
	return &cfg
}

func TestClient_Do_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/items" {
			t.Errorf("expected /api/items, got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
		if got := r.Header.Get("X-Default"); got != "d" {
			t.Errorf("expected default header d, got %q", got)
		}
		if got := r.Header.Get("X-Request"); got != "r" {
			t.Errorf("expected request header r, got %q", got)
		}
		var body map[string]int
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["n"] != 7 {
			t.Errorf("expected n=7, got %d", body["n"])
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api/", Headers: map[string]string{"X-Default": "d"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := c.Do(context.Background(), Request{
		Method:  http.MethodPost,
		Path:    "/items",
		Headers: map[string]string{"X-Request": "r"},
		Body:    map[string]int{"n": 7},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if !resp.IsSuccess() {
		t.Error("expected IsSuccess=true")
	}
	if resp.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", resp.Attempts)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantNil   bool
		code      ErrorCode
		retryable bool
	}{
		{200, true, 0, false},
		{204, true, 0, false},
		{400, false, ErrCodeRejected, false},
		{401, false, ErrCodeAuth, false},
		{403, false, ErrCodeAuth, false},
		{404, false, ErrCodeNotFound, false},
		{422, false, ErrCodeRejected, false},
		{429, false, ErrCodeRateLimit, true},
		{500, false, ErrCodeServer, true},
		{503, false, ErrCodeServer, true},
	}
	for _, tt := range tests {
		err := ClassifyStatusCode(tt.status, nil)
		if tt.wantNil {
			if err != nil {
				t.Errorf("status %d: expected nil, got %v", tt.status, err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if err.Code != tt.code {
			t.Errorf("status %d: expected code %s, got %s", tt.status, tt.code, err.Code)
		}
		if err.Retryable != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, err.Retryable)
		}
		if err.StatusCode != tt.status {
			t.Errorf("expected status %d, got %d", tt.status, err.StatusCode)
		}
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var retries []int
	c, err := New(Config{BaseURL: srv.URL, Retry: retryConfig(3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := c.Do(context.Background(), Request{
		Path:    "/",
		OnRetry: func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", resp.Attempts)
	}
	if len(retries) != 2 {
		t.Errorf("expected 2 retry callbacks, got %v", retries)
	}
}

func TestClient_DoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Retry: retryConfig(3)})
	resp, err := c.Do(context.Background(), Request{Path: "/"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected the 400 response alongside the error, got %+v", resp)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("expected status 400 on error, got %d", StatusCode(err))
	}
	var e *Error
	if !errors.As(err, &e) || string(e.Body) != `{"error":"bad"}` {
		t.Errorf("expected body on error, got %v", err)
	}
}

func TestClient_RetryIfOverride(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := New(Config{
		BaseURL: srv.URL,
		Retry:   retryConfig(3),
		RetryIf: func(err error) bool { return IsRetryable(err) || IsNotFound(err) },
	})
	if _, err := c.Do(context.Background(), Request{Path: "/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c, _ := New(Config{
		BaseURL:        srv.URL,
		CircuitBreaker: &resilience.CircuitBreakerConfig{Name: "test", MaxFailures: 2, Timeout: time.Minute},
	})
	ctx := context.Background()

	// Rejections do not count against the circuit.
	for i := 0; i < 3; i++ {
		if _, err := c.Do(ctx, Request{Path: "/"}); StatusCode(err) != http.StatusBadRequest {
			t.Fatalf("expected 400, got %v", err)
		}
	}

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		if _, err := c.Do(ctx, Request{Path: "/"}); !IsRetryable(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	}
	if _, err := c.Do(ctx, Request{Path: "/"}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("expected 5 calls, got %d", calls.Load())
	}
}

func TestClient_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := New(Config{BaseURL: url})
	_, err := c.Do(context.Background(), Request{Path: "/"})
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeConnection {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !apperrors.HasCode(ToAppError("remote", err), apperrors.ErrCodeConnectionFailed) {
		t.Errorf("expected ConnectionFailed app error, got %v", ToAppError("remote", err))
	}
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"timeout", NewTimeoutError(errors.New("slow")), apperrors.ErrCodeTimeout},
		{"connection", NewConnectionError(errors.New("refused")), apperrors.ErrCodeConnectionFailed},
		{"rate limit", ClassifyStatusCode(429, nil), apperrors.ErrCodeServiceUnavailable},
		{"server", ClassifyStatusCode(500, nil), apperrors.ErrCodeExternalService},
		{"auth", ClassifyStatusCode(401, nil), apperrors.ErrCodeExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToAppError("svc", tt.err); !apperrors.HasCode(got, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, got)
			}
		})
	}

	plain := errors.New("plain")
	if ToAppError("svc", plain) != plain {
		t.Error("expected unclassified errors to pass through")
	}
}

func TestPost_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Key"); got != "k" {
			t.Errorf("expected X-Key k, got %q", got)
		}
		switch r.URL.Path {
		case "/empty":
			w.WriteHeader(http.StatusAccepted)
		case "/bad":
			_, _ = w.Write([]byte("not json"))
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "x"})
		}
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	ctx := context.Background()

	resp, err := Post[map[string]string](ctx, c, "/ok", nil, WithHeader("X-Key", "k"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data["name"] != "x" {
		t.Errorf("expected name x, got %v", resp.Data)
	}

	resp, err = Post[map[string]string](ctx, c, "/empty", nil, WithHeaders(map[string]string{"X-Key": "k"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || resp.Data != nil {
		t.Errorf("expected empty 202, got %d %v", resp.StatusCode, resp.Data)
	}

	_, err = Post[map[string]string](ctx, c, "/bad", nil, WithHeader("X-Key", "k"))
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeDecode {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if _, err := New(Config{Timeout: -time.Second}); err == nil {
		t.Error("expected error for negative timeout")
	}
	if _, err := New(Config{Retry: &resilience.RetryConfig{}}); err == nil {
		t.Error("expected error for zero max attempts")
	}
}
