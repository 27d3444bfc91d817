package schema

import (
	"fmt"
	"strings"

	"github.com/kbukum/taskflow/condition"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/validation"
)

// Variable roots understood by the execution context.
const (
	RootInput = "input"
	RootNodes = "nodes"
	RootVars  = "vars"
	RootLoop  = "loop"
)

// Validate reports every structural problem of the schema as a single
// SCHEMA_INVALID error, or nil.
func (s *PipelineSchema) Validate() error {
	_, err := Compile(s)
	return err
}

// Compile validates s and returns its analyzed graph.
func Compile(s *PipelineSchema) (*Graph, error) {
	v := validation.NewWith(errors.SchemaInvalid)
	v.Merge("", validation.Validate(s))

	ids := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if n.ID != "" {
			if ids[n.ID] {
				v.AddErrorf(field+".node_id", "duplicate node id %q", n.ID)
			}
			ids[n.ID] = true
		}
		validateConfig(v, field, &n)
	}
	for i, e := range s.Edges {
		if e.Condition != nil {
			v.Merge(fmt.Sprintf("edges[%d].condition", i), e.Condition.Validate())
		}
	}

	g := analyze(s, v.AddError)
	checkMergeInputs(v, g)
	checkBranchWrites(v, g)
	if s.Strict {
		checkStrictVariables(v, g)
	}

	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}
	return g, nil
}

func validateConfig(v *validation.Validator, field string, n *Node) {
	if n.Config == nil {
		v.AddError(field+".config", "is required")
		return
	}
	if n.Config.nodeType() != n.Type {
		v.AddErrorf(field+".config", "%s config does not match node_type %q", n.Config.nodeType(), n.Type)
		return
	}
	v.Merge(field+".config", validation.Validate(n.Config))

	switch cfg := n.Config.(type) {
	case *ConditionConfig:
		if cfg.Expression != nil {
			v.Merge(field+".config.expression", cfg.Expression.Validate())
		}
		v.Check(cfg.TrueBranch != "" || cfg.FalseBranch != "", field+".config", "needs true_branch or false_branch")
	case *LoopConfig:
		hasCount := cfg.Iterations > 0
		hasItems := cfg.Items != ""
		v.Check(hasCount != hasItems, field+".config", "exactly one of iterations or items is required")
		if cfg.BreakCondition != nil {
			v.Merge(field+".config.break_condition", cfg.BreakCondition.Validate())
		}
		if hasCount && cfg.MaxIterations > 0 && cfg.Iterations > cfg.MaxIterations {
			v.AddErrorf(field+".config.iterations", "exceeds max_iterations %d", cfg.MaxIterations)
		}
	case *ParallelConfig:
		for name, ids := range cfg.Branches {
			v.Check(len(ids) > 0, field+".config.branches."+name, "is empty")
		}
	case *MergeConfig:
		if cfg.Strategy == CombineReduce {
			v.Required(field+".config.reducer", cfg.Reducer)
		}
	}
}

// checkMergeInputs requires bare merge inputs to name existing nodes.
// Dotted inputs are context paths and resolve at run time.
func checkMergeInputs(v *validation.Validator, g *Graph) {
	for i := range g.Schema.Nodes {
		cfg, ok := g.Schema.Nodes[i].Config.(*MergeConfig)
		if !ok {
			continue
		}
		for j, in := range cfg.Inputs {
			if !strings.Contains(in, ".") && g.nodes[in] == nil {
				v.AddErrorf(fmt.Sprintf("nodes[%d].config.inputs[%d]", i, j), "references unknown node %q", in)
			}
		}
	}
}

// writes returns the variables a node writes into the shared context.
func writes(n *Node) []string {
	switch cfg := n.Config.(type) {
	case *InputConfig:
		out := make([]string, 0, len(cfg.Mapping))
		for target := range cfg.Mapping {
			out = append(out, target)
		}
		return out
	case *TransformConfig:
		if cfg.OutputVar != "" {
			return []string{cfg.OutputVar}
		}
	}
	return nil
}

// checkBranchWrites rejects two branches of one parallel node writing the
// same variable.
func checkBranchWrites(v *validation.Validator, g *Graph) {
	for i := range g.Schema.Nodes {
		p := &g.Schema.Nodes[i]
		cfg := p.Parallel()
		if cfg == nil {
			continue
		}
		writer := make(map[string]string)
		for _, name := range sortedKeys(cfg.Branches) {
			seen := make(map[string]bool)
			for _, n := range g.Schema.Nodes {
				if n.ID == p.ID || !g.Within(n.ID, p.ID) || branchOf(g, n.ID, p.ID) != name {
					continue
				}
				for _, w := range writes(&n) {
					if seen[w] {
						continue
					}
					seen[w] = true
					if other, ok := writer[w]; ok {
						v.AddErrorf(fmt.Sprintf("nodes[%d].config.branches", i),
							"branches %q and %q both write variable %q", other, name, w)
						continue
					}
					writer[w] = name
				}
			}
		}
	}
}

// branchOf returns the branch of parallel node p that contains id.
func branchOf(g *Graph, id, p string) string {
	for _, a := range g.ancestors(id) {
		if g.owner[a] == p {
			return g.branch[a]
		}
	}
	return ""
}

// checkStrictVariables requires every variable referenced by a condition to
// be declared by the input schema or produced by a node.
func checkStrictVariables(v *validation.Validator, g *Graph) {
	s := g.Schema
	inputs := make(map[string]bool, len(s.InputSchema))
	for _, f := range s.InputSchema {
		inputs[f.Name] = true
	}
	produced := make(map[string]bool)
	for i := range s.Nodes {
		for _, w := range writes(&s.Nodes[i]) {
			produced[w] = true
		}
	}

	check := func(field string, expr *condition.Expr, inLoop bool) {
		for _, path := range condition.Variables(expr) {
			if !declared(path, inputs, produced, g, inLoop) {
				v.AddErrorf(field, "references undeclared variable %q", path)
			}
		}
	}

	inLoop := func(id string) bool {
		for _, a := range g.ancestors(id)[1:] {
			if g.nodes[a].Loop() != nil {
				return true
			}
		}
		return false
	}

	for i := range s.Nodes {
		n := &s.Nodes[i]
		field := fmt.Sprintf("nodes[%d].config", i)
		switch cfg := n.Config.(type) {
		case *ConditionConfig:
			check(field+".expression", cfg.Expression, inLoop(n.ID))
		case *LoopConfig:
			check(field+".break_condition", cfg.BreakCondition, true)
		case *InputConfig:
			for j, name := range cfg.Required {
				if !inputs[name] {
					v.AddErrorf(fmt.Sprintf("%s.required[%d]", field, j), "field %q is not declared in input_schema", name)
				}
			}
		}
	}
	for i, e := range s.Edges {
		if e.Condition != nil {
			check(fmt.Sprintf("edges[%d].condition", i), e.Condition, inLoop(e.Target))
		}
	}
}

func declared(path string, inputs, produced map[string]bool, g *Graph, inLoop bool) bool {
	root, rest, _ := strings.Cut(path, ".")
	head, _, _ := strings.Cut(rest, ".")
	switch root {
	case RootInput:
		return inputs[head]
	case RootNodes:
		return g.nodes[head] != nil
	case RootVars:
		return produced[head] || loopVariable(g, head)
	case RootLoop:
		return inLoop
	}
	return produced[root] || loopVariable(g, root)
}

func loopVariable(g *Graph, name string) bool {
	for _, n := range g.Schema.Nodes {
		if l := n.Loop(); l != nil && l.LoopVariable() == name {
			return true
		}
	}
	return false
}
