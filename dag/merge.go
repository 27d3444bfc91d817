package dag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/schema"
)

// Reducer folds one value into an accumulator.
type Reducer func(acc, value any) (any, error)

var builtinReducers = map[string]Reducer{
	"sum":     numericReducer(func(a, b float64) float64 { return a + b }),
	"product": numericReducer(func(a, b float64) float64 { return a * b }),
	"min": numericReducer(func(a, b float64) float64 {
		if b < a {
			return b
		}
		return a
	}),
	"max": numericReducer(func(a, b float64) float64 {
		if b > a {
			return b
		}
		return a
	}),
	"append": func(acc, value any) (any, error) {
		list, _ := toSlice(acc)
		if acc != nil && list == nil {
			list = []any{acc}
		}
		return append(list, value), nil
	},
}

// numericReducer treats a nil accumulator as the first value.
func numericReducer(op func(a, b float64) float64) Reducer {
	return func(acc, value any) (any, error) {
		b, ok := toNumber(value)
		if !ok {
			return nil, fmt.Errorf("value %v is not a number", value)
		}
		if acc == nil {
			return b, nil
		}
		a, ok := toNumber(acc)
		if !ok {
			return nil, fmt.Errorf("accumulator %v is not a number", acc)
		}
		return op(a, b), nil
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

type mergeBehavior struct{}

// Execute combines its inputs in declared order. Inputs that did not
// produce output, such as an untaken branch, are left out.
func (mergeBehavior) Execute(_ context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.MergeConfig)
	sources := cfg.Inputs
	if len(sources) == 0 {
		sources = inv.Graph().Predecessors(inv.Node.ID)
	}

	values := make([]any, 0, len(sources))
	for _, src := range sources {
		var v any
		var ok bool
		if strings.Contains(src, ".") {
			v, ok = inv.State.Resolve(src)
		} else {
			v, ok = inv.State.Output(src)
		}
		if ok {
			values = append(values, v)
		}
	}
	inv.Input = values

	switch cfg.Strategy {
	case schema.CombineConcat:
		out := make([]any, 0, len(values))
		for _, v := range values {
			if list, ok := toSlice(v); ok {
				out = append(out, list...)
				continue
			}
			out = append(out, v)
		}
		return out, nil

	case schema.CombineMerge:
		out := make(map[string]any)
		for i, v := range values {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("input %d is %T, not an object", i, v))
			}
			for k, x := range m {
				out[k] = x
			}
		}
		return out, nil

	case schema.CombineReduce:
		fn, ok := inv.Registry().Reducer(cfg.Reducer)
		if !ok {
			return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("unknown reducer %q", cfg.Reducer))
		}
		acc := cfg.Initial
		for _, v := range values {
			var err error
			if acc, err = fn(acc, v); err != nil {
				return nil, errors.NodeFailed(inv.Node.ID, err)
			}
		}
		return acc, nil
	}
	return nil, errors.NodeFailed(inv.Node.ID, fmt.Errorf("unknown strategy %q", cfg.Strategy))
}
