package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/kafka"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/redis"
)

const secret = "s3cret"

func init() {
	gin.SetMode(gin.TestMode)
}

func fixedSigner(now time.Time) *Signer {
	s := NewSigner(secret, 0)
	s.now = func() time.Time { return now }
	return s
}

func newGateway(t *testing.T, dedupe DedupeStore) (*Gateway, *dag.PendingSteps, *Metrics) {
	t.Helper()
	pending := dag.NewPendingSteps()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewGateway(NewSigner(secret, 0), dedupe, pending, metrics, logger.Nop()), pending, metrics
}

func signed(taskID string, step int, sig dag.Signal) Envelope {
	s := NewSigner(secret, 0)
	ts := time.Now().Unix()
	return Envelope{TaskID: taskID, StepIndex: step, Timestamp: ts, Signature: s.Sign(taskID, step, ts), Signal: sig}
}

func TestSigner_Verify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := fixedSigner(now)
	good := s.Sign("task-1", 2, now.Unix())

	tests := []struct {
		name string
		task string
		step int
		ts   int64
		sig  string
		want errors.ErrorCode
	}{
		{"valid", "task-1", 2, now.Unix(), good, ""},
		{"wrong step", "task-1", 3, now.Unix(), good, errors.ErrCodeInvalidSignature},
		{"not hex", "task-1", 2, now.Unix(), "zz", errors.ErrCodeInvalidSignature},
		{"other secret", "task-1", 2, now.Unix(), NewSigner("other", 0).Sign("task-1", 2, now.Unix()), errors.ErrCodeInvalidSignature},
		{"stale", "task-1", 2, now.Add(-6 * time.Minute).Unix(), s.Sign("task-1", 2, now.Add(-6*time.Minute).Unix()), errors.ErrCodeStaleCallback},
		{"future", "task-1", 2, now.Add(6 * time.Minute).Unix(), s.Sign("task-1", 2, now.Add(6*time.Minute).Unix()), errors.ErrCodeStaleCallback},
		{"inside window", "task-1", 2, now.Add(-4 * time.Minute).Unix(), s.Sign("task-1", 2, now.Add(-4*time.Minute).Unix()), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.task, tt.step, tt.ts, tt.sig)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.want) {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGateway_AcceptForwardsOnce(t *testing.T) {
	g, pending, metrics := newGateway(t, nil)
	ctx := context.Background()
	ch, release := pending.Register("task-1", 4)
	defer release()

	env := signed("task-1", 4, dag.Signal{Status: dag.SignalCompleted, Output: "done"})
	forwarded, err := g.Accept(ctx, env)
	if err != nil || !forwarded {
		t.Fatalf("expected forward, got %v %v", forwarded, err)
	}
	select {
	case sig := <-ch:
		if sig.Output != "done" {
			t.Errorf("expected output done, got %v", sig.Output)
		}
	default:
		t.Fatal("expected signal to be delivered")
	}

	forwarded, err = g.Accept(ctx, env)
	if err != nil || forwarded {
		t.Fatalf("expected duplicate acknowledged, got %v %v", forwarded, err)
	}
	if got := promtest.ToFloat64(metrics.callbacks.WithLabelValues(SourceHTTP, OutcomeDuplicate)); got != 1 {
		t.Errorf("expected 1 duplicate, got %v", got)
	}
}

func TestGateway_NoPendingReleasesClaim(t *testing.T) {
	g, pending, _ := newGateway(t, nil)
	ctx := context.Background()
	env := signed("task-1", 1, dag.Signal{Status: dag.SignalCompleted})

	if _, err := g.Accept(ctx, env); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	ch, release := pending.Register("task-1", 1)
	defer release()
	forwarded, err := g.Accept(ctx, env)
	if err != nil || !forwarded {
		t.Fatalf("expected the retry to be forwarded, got %v %v", forwarded, err)
	}
	if sig := <-ch; sig.Status != dag.SignalCompleted {
		t.Errorf("expected completed, got %s", sig.Status)
	}
}

func TestGateway_RejectsBadSignature(t *testing.T) {
	g, pending, metrics := newGateway(t, nil)
	_, release := pending.Register("task-1", 0)
	defer release()

	env := signed("task-1", 0, dag.Signal{Status: dag.SignalCompleted})
	env.Signature = NewSigner("forged", 0).Sign("task-1", 0, env.Timestamp)
	if _, err := g.Accept(context.Background(), env); !errors.HasCode(err, errors.ErrCodeInvalidSignature) {
		t.Fatalf("expected CALLBACK_INVALID_SIGNATURE, got %v", err)
	}
	if !pending.Waiting("task-1", 0) {
		t.Error("expected step to keep waiting")
	}
	if got := promtest.ToFloat64(metrics.callbacks.WithLabelValues(SourceHTTP, OutcomeRejected)); got != 1 {
		t.Errorf("expected 1 rejection, got %v", got)
	}
}

func TestRedisDedupe(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.New(redis.Config{Enabled: true, Addr: mr.Addr()}, logger.Nop())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDedupe(client, time.Hour)
	ctx := context.Background()
	if ok, err := d.Claim(ctx, "task-1:0"); err != nil || !ok {
		t.Fatalf("expected first claim, got %v %v", ok, err)
	}
	if ok, _ := d.Claim(ctx, "task-1:0"); ok {
		t.Fatal("expected second claim to lose")
	}
	if ttl := mr.TTL("taskflow:cb:task-1:0"); ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %v", ttl)
	}
	if err := d.Release(ctx, "task-1:0"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := d.Claim(ctx, "task-1:0"); !ok {
		t.Error("expected claim after release")
	}
}

func TestMemoryDedupe_Expires(t *testing.T) {
	d := NewMemoryDedupe(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Fatal("expected first claim")
	}
	if ok, _ := d.Claim(ctx, "k"); ok {
		t.Fatal("expected duplicate")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := d.Claim(ctx, "k"); !ok {
		t.Error("expected claim after expiry")
	}
}

func TestHandle(t *testing.T) {
	s := NewSigner(secret, 0)

	tests := []struct {
		name     string
		path     string
		body     string
		headers  func(ts int64) map[string]string
		waiting  bool
		wantCode int
	}{
		{
			name:     "accepted",
			path:     "/callbacks/task-1/steps/2",
			body:     `{"status":"completed","output":{"v":1}}`,
			headers:  func(ts int64) map[string]string { return headersFor(s, "task-1", 2, ts) },
			waiting:  true,
			wantCode: http.StatusOK,
		},
		{
			name:     "no pending step",
			path:     "/callbacks/task-1/steps/2",
			body:     `{"status":"completed"}`,
			headers:  func(ts int64) map[string]string { return headersFor(s, "task-1", 2, ts) },
			wantCode: http.StatusNotFound,
		},
		{
			name:     "bad signature",
			path:     "/callbacks/task-1/steps/2",
			body:     `{"status":"completed"}`,
			headers:  func(ts int64) map[string]string { return headersFor(s, "task-1", 3, ts) },
			waiting:  true,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "missing timestamp",
			path:     "/callbacks/task-1/steps/2",
			body:     `{"status":"completed"}`,
			headers:  func(int64) map[string]string { return nil },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "malformed body",
			path:     "/callbacks/task-1/steps/2",
			body:     `{"status":`,
			headers:  func(ts int64) map[string]string { return headersFor(s, "task-1", 2, ts) },
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad step index",
			path:     "/callbacks/task-1/steps/x",
			body:     `{"status":"completed"}`,
			headers:  func(ts int64) map[string]string { return headersFor(s, "task-1", 2, ts) },
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, pending, _ := newGateway(t, nil)
			if tt.waiting {
				_, release := pending.Register("task-1", 2)
				defer release()
			}
			r := gin.New()
			g.RegisterRoutes(r)

			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			for k, v := range tt.headers(time.Now().Unix()) {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			if tt.wantCode == http.StatusOK {
				var body map[string]string
				_ = json.Unmarshal(rr.Body.Bytes(), &body)
				if body["status"] != "ok" {
					t.Errorf("expected status ok, got %v", body)
				}
			}
		})
	}
}

func headersFor(s *Signer, taskID string, step int, ts int64) map[string]string {
	return map[string]string{
		HeaderSignature: s.Sign(taskID, step, ts),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
	}
}

func TestKafkaHandler(t *testing.T) {
	g, pending, metrics := newGateway(t, nil)
	ch, release := pending.Register("task-9", 1)
	defer release()

	s := NewSigner(secret, 0)
	body, _ := json.Marshal(Envelope{StepIndex: 1, Signal: dag.Signal{Status: dag.SignalFailed, Error: "gpu lost"}})
	msg := kafka.Message{Key: "task-9", Value: body, Headers: s.SignedHeaders("task-9", 1)}

	handle := g.KafkaHandler()
	if err := handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := <-ch
	if sig.Succeeded() || sig.Error != "gpu lost" {
		t.Errorf("expected failure signal, got %+v", sig)
	}

	if err := handle(context.Background(), kafka.Message{Value: []byte("not json")}); err != nil {
		t.Errorf("expected malformed message to be committed, got %v", err)
	}
	if got := promtest.ToFloat64(metrics.callbacks.WithLabelValues(SourceKafka, OutcomeAccepted)); got != 1 {
		t.Errorf("expected 1 accepted, got %v", got)
	}
}

func newNotifier(t *testing.T, url string) *Notifier {
	t.Helper()
	n, err := NewNotifier(NotifierConfig{BaseURL: url, Backoff: time.Millisecond}, NewSigner(secret, 0), logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return n
}

func TestNotifier_DeliversThroughGateway(t *testing.T) {
	g, pending, _ := newGateway(t, nil)
	r := gin.New()
	g.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ch, release := pending.Register("task-2", 5)
	defer release()

	n := newNotifier(t, srv.URL)
	if err := n.Notify(context.Background(), "task-2", 5, dag.Signal{Status: dag.SignalCompleted, Output: 3.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := <-ch
	if sig.Status != dag.SignalCompleted || sig.Output != 3.0 {
		t.Errorf("expected completed with output 3, got %+v", sig)
	}
}

func TestNotifier_StopsOnRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := newNotifier(t, srv.URL)
	err := n.Notify(context.Background(), "task-1", 0, dag.Signal{Status: dag.SignalCompleted})
	if !errors.HasCode(err, errors.ErrCodeExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestNotifier_RetriesNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newNotifier(t, srv.URL)
	if err := n.Notify(context.Background(), "task-1", 0, dag.Signal{Status: dag.SignalCompleted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}
