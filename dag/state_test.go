package dag

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kbukum/taskflow/errors"
)

func TestState_Resolve(t *testing.T) {
	st := NewState(map[string]any{"user": map[string]any{"name": "ada"}, "n": 3.0})
	st.Set("threshold", 10.0)
	st.SetResult("sensor", StatusCompleted, &ConditionResult{Result: true, SelectedBranch: "hot"})
	st.SetResult("skipped", StatusSkipped, nil)

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"input.n", 3.0, true},
		{"input.user.name", "ada", true},
		{"input.missing", nil, false},
		{"vars.threshold", 10.0, true},
		{"threshold", 10.0, true},
		{"nodes.sensor.status", "completed", true},
		{"nodes.sensor.output.result", true, true},
		{"nodes.sensor.output.selected_branch", "hot", true},
		{"nodes.skipped.status", "skipped", true},
		{"nodes.skipped.output", nil, false},
		{"nodes.unknown.status", nil, false},
		{"loop.index", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := st.Resolve(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestState_ChildScope(t *testing.T) {
	root := NewState(nil)
	root.Set("shared", "root")
	root.SetResult("a", StatusCompleted, "A")

	child := root.Child()
	child.Set("local", 1)
	child.SetLoop(map[string]any{"index": 2, "item": "x"})
	child.SetResult("b", StatusCompleted, "B")

	if v, ok := child.Resolve("shared"); !ok || v != "root" {
		t.Errorf("expected child to read parent var, got %v", v)
	}
	if v, ok := child.Resolve("nodes.a.output"); !ok || v != "A" {
		t.Errorf("expected child to read parent output, got %v", v)
	}
	if v, ok := child.Resolve("loop.index"); !ok || v != 2 {
		t.Errorf("expected loop.index 2, got %v", v)
	}
	if _, ok := root.Resolve("local"); ok {
		t.Error("expected child var to stay local before merge")
	}
	if root.Status("b") != "" {
		t.Error("expected child status to stay local before merge")
	}

	root.Merge(child)
	if v, ok := root.Resolve("local"); !ok || v != 1 {
		t.Errorf("expected merged var, got %v", v)
	}
	if out, _ := root.Output("b"); out != "B" {
		t.Errorf("expected merged output, got %v", out)
	}
	if got := child.Outputs([]string{"a", "b"}); len(got) != 1 || got["b"] != "B" {
		t.Errorf("expected only local outputs, got %v", got)
	}
}

func TestState_NormalizesStructuredOutputs(t *testing.T) {
	st := NewState(nil)
	st.SetResult("loop", StatusCompleted, &LoopResult{Iterations: []map[string]any{}, CompletedIterations: 2, BreakReason: BreakExhausted})
	v, ok := st.Resolve("nodes.loop.output.completed_iterations")
	if !ok || v != 2.0 {
		t.Errorf("expected completed_iterations 2, got %v (%v)", v, ok)
	}
	snap := st.Snapshot()
	if _, ok := snap["nodes"].(map[string]any)["loop"].(map[string]any); !ok {
		t.Errorf("expected snapshot output as map, got %T", snap["nodes"].(map[string]any)["loop"])
	}
}

func TestPendingSteps_DeliverOnce(t *testing.T) {
	p := NewPendingSteps()
	ch, release := p.Register("task", 2)
	defer release()

	if !p.Waiting("task", 2) || p.Len() != 1 {
		t.Fatal("expected step to be waiting")
	}
	if err := p.Deliver("task", 2, Signal{Status: SignalCompleted, Output: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig := <-ch; !sig.Succeeded() || sig.Output != "ok" {
		t.Errorf("unexpected signal: %+v", sig)
	}
	err := p.Deliver("task", 2, Signal{Status: SignalCompleted})
	if !stderrors.Is(err, ErrNoPendingStep) {
		t.Errorf("expected ErrNoPendingStep on second delivery, got %v", err)
	}
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND code, got %v", err)
	}
}

func TestPendingSteps_UnknownStep(t *testing.T) {
	p := NewPendingSteps()
	if err := p.Deliver("task", 0, Signal{}); err == nil {
		t.Error("expected error for unknown step")
	}
}

func TestPendingSteps_Release(t *testing.T) {
	p := NewPendingSteps()
	_, release := p.Register("task", 1)
	release()
	if p.Waiting("task", 1) {
		t.Error("expected released step to stop waiting")
	}
	release()
}

func TestPendingSteps_Await(t *testing.T) {
	p := NewPendingSteps()
	go func() {
		for !p.Waiting("t", 0) {
			time.Sleep(time.Millisecond)
		}
		p.Deliver("t", 0, Signal{Status: "success"})
	}()
	sig, err := p.Await(context.Background(), "t", 0)
	if err != nil || !sig.Succeeded() {
		t.Fatalf("expected success signal, got %+v %v", sig, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx, "t", 1); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("expected no waiters after timeout, got %d", p.Len())
	}
}

func TestSignalResult(t *testing.T) {
	res := signalResult(Signal{Status: SignalCompleted, OutputURL: "s3://x"})
	if !res.Success || res.Output.(map[string]any)["output_url"] != "s3://x" {
		t.Errorf("expected output_url fallback, got %+v", res)
	}
	res = signalResult(Signal{Status: SignalFailed})
	if res.Success || res.Error == "" {
		t.Errorf("expected failure with message, got %+v", res)
	}
}

func TestReducers(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   any
	}{
		{"sum", []any{1, 2.5, "3"}, 6.5},
		{"product", []any{2, 3}, 6.0},
		{"min", []any{5, -1, 3}, -1.0},
		{"max", []any{5, -1, 3}, 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := builtinReducers[tt.name]
			var acc any
			for _, v := range tt.values {
				var err error
				if acc, err = fn(acc, v); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if acc != tt.want {
				t.Errorf("expected %v, got %v", tt.want, acc)
			}
		})
	}

	if _, err := builtinReducers["sum"](1.0, "abc"); err == nil {
		t.Error("expected error for non-numeric value")
	}
}

func TestReducers_SumMatchesLoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		xs := rapid.SliceOf(rapid.IntRange(-1000, 1000)).Draw(t, "xs")
		var acc any
		want := 0
		for _, x := range xs {
			acc, _ = builtinReducers["sum"](acc, x)
			want += x
		}
		if len(xs) == 0 {
			if acc != nil {
				t.Fatalf("expected nil for no values, got %v", acc)
			}
			return
		}
		if acc != float64(want) {
			t.Fatalf("expected %d, got %v", want, acc)
		}
	})
}

func TestNodeError(t *testing.T) {
	ne := &NodeError{NodeID: "n", Err: errors.NodeTimeout("n")}
	if ne.Code() != string(errors.ErrCodeNodeTimeout) {
		t.Errorf("expected NODE_TIMEOUT, got %s", ne.Code())
	}
	plain := &NodeError{NodeID: "n", Err: stderrors.New("raw")}
	if plain.Code() != string(errors.ErrCodeNodeFailed) || plain.Message() != "raw" {
		t.Errorf("unexpected plain node error: %s %s", plain.Code(), plain.Message())
	}
	d := errorDetails(plain)
	if d.FailedNodeID != "n" {
		t.Errorf("expected failed node n, got %+v", d)
	}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.DefaultNodeTimeout != 30*time.Second || cfg.MaxConcurrentProcessors != 64 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := (&Config{MaxParallel: -1}).Validate(); err == nil {
		t.Error("expected error for negative max_parallel")
	}
}
