package dag

import (
	"context"

	"github.com/kbukum/taskflow/condition"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/schema"
)

// Behavior executes one node type.
type Behavior interface {
	Execute(ctx context.Context, inv *Invocation) (any, error)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(ctx context.Context, inv *Invocation) (any, error)

func (f BehaviorFunc) Execute(ctx context.Context, inv *Invocation) (any, error) {
	return f(ctx, inv)
}

// Invocation is the environment of one node visit.
type Invocation struct {
	Node      *schema.Node
	State     *State
	StepIndex int
	Iteration int
	Branch    string

	// Input and RetryCount are copied onto the recorded step.
	Input      any
	RetryCount int

	run *run
}

func (inv *Invocation) Execution() *Execution { return inv.run.exec }

func (inv *Invocation) Graph() *schema.Graph { return inv.run.graph }

func (inv *Invocation) Registry() *Registry { return inv.run.s.registry }

// RunNodes executes ids in order inside st, as loop bodies and parallel
// branches do.
func (inv *Invocation) RunNodes(ctx context.Context, ids []string, st *State, iteration int, branch string) error {
	return inv.run.runSequence(ctx, ids, st, iteration, branch)
}

// Inputs gathers the outputs of the node's active predecessors. An edge
// with a target port is keyed by that port; otherwise object outputs are
// merged key by key and anything else is keyed by the source node id.
// Condition nodes pass their own inputs through.
func (inv *Invocation) Inputs() map[string]any {
	return inv.run.inputsOf(inv.Node.ID, inv.State, 0)
}

func (r *run) inputsOf(id string, st *State, depth int) map[string]any {
	out := make(map[string]any)
	if depth > len(r.graph.Schema.Nodes) {
		return out
	}
	for _, d := range r.graph.Deps(id) {
		if !r.depActive(id, d, st) {
			continue
		}
		var v any
		if src := r.graph.Node(d.Source); src != nil && src.Type == schema.NodeCondition {
			v = r.inputsOf(d.Source, st, depth+1)
		} else {
			v, _ = st.Output(d.Source)
		}
		if d.Edge != nil && d.Edge.SourcePort != "" {
			v, _ = descend(v, d.Edge.SourcePort)
		}
		if d.Edge != nil && d.Edge.TargetPort != "" {
			out[d.Edge.TargetPort] = v
			continue
		}
		if m, ok := v.(map[string]any); ok {
			for k, x := range m {
				out[k] = x
			}
			continue
		}
		out[d.Source] = v
	}
	return out
}

type inputBehavior struct{}

// Execute checks required fields and copies mapped input into variables.
// Without a mapping the whole input passes through.
func (inputBehavior) Execute(_ context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.InputConfig)
	input := inv.Execution().Input
	inv.Input = input

	for _, field := range cfg.Required {
		if _, ok := inv.State.Resolve(schema.RootInput + "." + field); !ok {
			return nil, errors.MissingField(field)
		}
	}
	if len(cfg.Mapping) == 0 {
		out := make(map[string]any, len(input))
		for k, v := range input {
			out[k] = v
		}
		return out, nil
	}

	out := make(map[string]any, len(cfg.Mapping))
	for target, source := range cfg.Mapping {
		v, ok := inv.State.Resolve(source)
		if !ok {
			continue
		}
		inv.State.Set(target, v)
		out[target] = v
	}
	return out, nil
}

type outputBehavior struct{}

// Execute resolves each port. Unresolvable ports are left out.
func (outputBehavior) Execute(_ context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.OutputConfig)
	out := make(map[string]any, len(cfg.Ports))
	for port, path := range cfg.Ports {
		if v, ok := inv.State.Resolve(path); ok {
			out[port] = v
		}
	}
	inv.Input = cfg.Ports
	inv.run.addOutput(out)
	return out, nil
}

type conditionBehavior struct{}

func (conditionBehavior) Execute(_ context.Context, inv *Invocation) (any, error) {
	cfg := inv.Node.Config.(*schema.ConditionConfig)
	inv.Input = cfg.Expression
	result := condition.Evaluate(cfg.Expression, inv.State)
	selected := cfg.FalseBranch
	if result {
		selected = cfg.TrueBranch
	}
	return &ConditionResult{Result: result, SelectedBranch: selected}, nil
}
