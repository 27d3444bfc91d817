package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/schema"
)

type parallelBehavior struct{}

type branchOutcome struct {
	name  string
	state *State
	err   error
}

// Execute starts every branch concurrently and resolves per the node's
// merge strategy and error policy.
func (parallelBehavior) Execute(ctx context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.ParallelConfig)
	names := make([]string, 0, len(cfg.Branches))
	for name := range cfg.Branches {
		names = append(names, name)
	}
	sort.Strings(names)
	inv.Input = map[string]any{
		"branches":       names,
		"merge_strategy": cfg.Strategy(),
		"error_handling": cfg.Policy(),
	}

	if cfg.Strategy() == schema.MergeAll {
		return runAll(ctx, inv, cfg, names)
	}
	return runFirst(ctx, inv, cfg, names)
}

func runAll(ctx context.Context, inv *Invocation, cfg *schema.ParallelConfig, names []string) (any, error) {
	outcomes := make([]branchOutcome, len(names))
	policy := cfg.Policy()

	var g *errgroup.Group
	gctx := ctx
	if policy == schema.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if n := inv.run.s.cfg.MaxParallel; n > 0 {
		g.SetLimit(n)
	}

	for i, name := range names {
		g.Go(func() error {
			scope := inv.State.Child()
			err := inv.RunNodes(gctx, cfg.Branches[name], scope, inv.Iteration, name)
			outcomes[i] = branchOutcome{name: name, state: scope, err: err}
			if policy == schema.FailFast {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ParallelResult{Branches: make(map[string]any, len(names))}
	var firstErr error
	for _, o := range outcomes {
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			if policy == schema.Collect {
				result.Errors = append(result.Errors, branchError(o))
			} else {
				inv.run.log.Warn("parallel branch failed, ignoring", map[string]interface{}{
					"node_id": inv.Node.ID,
					"branch":  o.name,
					"error":   o.err.Error(),
				})
			}
			continue
		}
		result.Branches[o.name] = o.state.Outputs(cfg.Branches[o.name])
		inv.State.Merge(o.state)
	}

	if policy == schema.Collect && len(result.Branches) == 0 && firstErr != nil {
		return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("all %d branches failed: %w", len(names), firstErr))
	}
	return result, nil
}

// runFirst resolves on the first successful branch. With first the losers
// are cancelled; with race they keep running under the execution context
// and their steps are still recorded.
func runFirst(ctx context.Context, inv *Invocation, cfg *schema.ParallelConfig, names []string) (any, error) {
	policy := cfg.Policy()
	race := cfg.Strategy() == schema.MergeRace

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if race {
		branchCtx = inv.run.ctx
	}

	results := make(chan branchOutcome, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		inv.run.detached.Add(1)
		go func() {
			defer inv.run.detached.Done()
			defer wg.Done()
			scope := inv.State.Child()
			err := inv.RunNodes(branchCtx, cfg.Branches[name], scope, inv.Iteration, name)
			results <- branchOutcome{name: name, state: scope, err: err}
		}()
	}

	result := &ParallelResult{Branches: map[string]any{}}
	var firstErr error
	for range names {
		var o branchOutcome
		select {
		case o = <-results:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if o.err == nil {
			result.Winner = o.name
			result.Branches[o.name] = o.state.Outputs(cfg.Branches[o.name])
			inv.State.Merge(o.state)
			break
		}
		if firstErr == nil {
			firstErr = o.err
		}
		switch policy {
		case schema.FailFast:
			return nil, o.err
		case schema.Collect:
			result.Errors = append(result.Errors, branchError(o))
		}
	}

	if !race {
		cancel()
		wg.Wait()
	}

	if result.Winner == "" && policy != schema.Ignore {
		return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("all %d branches failed: %w", len(names), firstErr))
	}
	return result, nil
}

func branchError(o branchOutcome) BranchError {
	be := BranchError{Branch: o.name, Code: string(errors.ErrCodeNodeFailed), Message: o.err.Error()}
	var ne *NodeError
	if asNodeError(o.err, &ne) {
		be.NodeID = ne.NodeID
		be.Code = ne.Code()
		be.Message = ne.Message()
	}
	return be
}
