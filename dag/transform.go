package dag

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/resilience"
	"github.com/kbukum/taskflow/schema"
)

type transformBehavior struct{}

// Execute calls the node's processor under the node timeout. Async
// processors reply Pending and the step waits for its callback signal
// within the same timeout.
func (transformBehavior) Execute(ctx context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.TransformConfig)
	r := inv.run
	exec := inv.Execution()

	input := inv.Inputs()
	if len(cfg.Inputs) > 0 {
		input = make(map[string]any, len(cfg.Inputs))
		for name, path := range cfg.Inputs {
			if v, ok := inv.State.Resolve(path); ok {
				input[name] = v
			}
		}
	}
	inv.Input = input

	proc, err := r.s.processorFor(exec.Mode, cfg.ProcessingType)
	if err != nil {
		return nil, err
	}

	timeout := r.s.cfg.DefaultNodeTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := nctx.Deadline()

	req := &NodeRequest{
		ExecutionID:    exec.ID,
		TaskID:         exec.CallbackKey(),
		NodeID:         inv.Node.ID,
		StepIndex:      inv.StepIndex,
		ProcessingType: cfg.ProcessingType,
		Params:         cfg.Params,
		Input:          input,
		Deadline:       deadline,
		Async:          cfg.Async,
	}

	// Register before dispatch so a fast callback cannot arrive first.
	var signals <-chan Signal
	if cfg.Async {
		var release func()
		signals, release = r.s.pending.Register(req.TaskID, req.StepIndex)
		defer release()
	}

	res, err := resilience.ExecuteWithResult(nctx, r.s.bulkhead, func() (*NodeResult, error) {
		return proc.Process(nctx, req)
	})
	if err != nil {
		return nil, timeoutOr(nctx, ctx, inv.Node.ID, err)
	}
	if res == nil {
		return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("processor returned no result"))
	}

	inv.RetryCount = res.Retries

	if res.Pending {
		if signals == nil {
			return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("processor %q replied pending on a synchronous node", cfg.ProcessingType))
		}
		select {
		case sig := <-signals:
			res = signalResult(sig)
		case <-nctx.Done():
			return nil, timeoutOr(nctx, ctx, inv.Node.ID, nctx.Err())
		}
	}

	if !res.Success {
		return nil, errors.NodeFailed(inv.Node.ID, stderrors.New(res.Error))
	}
	if cfg.OutputVar != "" {
		inv.State.Set(cfg.OutputVar, res.Output)
	}
	return res.Output, nil
}

func signalResult(sig Signal) *NodeResult {
	if !sig.Succeeded() {
		msg := sig.Error
		if msg == "" {
			msg = "external processor reported " + sig.Status
		}
		return &NodeResult{Success: false, Error: msg}
	}
	out := sig.Output
	if out == nil && sig.OutputURL != "" {
		out = map[string]any{"output_url": sig.OutputURL}
	}
	return &NodeResult{Success: true, Output: out}
}

// timeoutOr maps an expired node deadline to NODE_TIMEOUT. Cancellation of
// the parent context passes through unchanged.
func timeoutOr(nctx, parent context.Context, nodeID string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if stderrors.Is(nctx.Err(), context.DeadlineExceeded) {
		return errors.NodeTimeout(nodeID).WithCause(err)
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.NodeFailed(nodeID, err)
}
