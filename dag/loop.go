package dag

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kbukum/taskflow/condition"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/schema"
)

type loopBehavior struct{}

// Execute runs the body once per item or per count. The break condition is
// evaluated before each iteration against the iteration scope, where
// loop.index is the number of completed iterations.
func (loopBehavior) Execute(ctx context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.LoopConfig)

	var items []any
	total := cfg.Iterations
	if cfg.Items != "" {
		v, ok := inv.State.Resolve(cfg.Items)
		if ok && v != nil {
			list, isList := toSlice(v)
			if !isList {
				return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("items %q is not a list", cfg.Items))
			}
			items = list
		}
		total = len(items)
	}
	inv.Input = map[string]any{"iterations": total}

	result := &LoopResult{Iterations: []map[string]any{}, BreakReason: BreakExhausted}
	var previous map[string]any
	for i := 0; i < total; i++ {
		if i >= cfg.Cap() {
			result.BreakReason = BreakMaxIterations
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var item any = i
		if items != nil {
			item = items[i]
		}
		scope := inv.State.Child()
		scope.Set(cfg.LoopVariable(), item)
		scope.SetLoop(map[string]any{"index": i, "item": item, "previous": previous})

		if cfg.BreakCondition != nil && condition.Evaluate(cfg.BreakCondition, scope) {
			result.BreakReason = BreakCondition
			break
		}
		if err := inv.RunNodes(ctx, cfg.Body, scope, i, inv.Branch); err != nil {
			return nil, err
		}

		previous = scope.Outputs(cfg.Body)
		result.Iterations = append(result.Iterations, previous)
		result.CompletedIterations++
	}
	return result, nil
}

// toSlice converts any slice or array to []any.
func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
