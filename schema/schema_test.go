package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbukum/taskflow/condition"
	"github.com/kbukum/taskflow/errors"
)

const doublingJSON = `{
  "id": "double",
  "version": 1,
  "input_schema": [{"name": "x", "type": "number", "required": true}],
  "nodes": [
    {"node_id": "in", "node_type": "input", "config": {"mapping": {"x": "input.x"}, "required": ["x"]}},
    {"node_id": "double", "node_type": "transform", "config": {"processing_type": "multiply", "params": {"factor": 2}, "timeout_ms": 2000}},
    {"node_id": "out", "node_type": "output", "config": {"ports": {"result": "nodes.double.output.value"}}}
  ],
  "edges": [
    {"source_node_id": "in", "target_node_id": "double"},
    {"source_node_id": "double", "target_node_id": "out"}
  ]
}`

func mustParse(t *testing.T, doc string) *PipelineSchema {
	t.Helper()
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return s
}

func TestParse_TaggedUnion(t *testing.T) {
	s := mustParse(t, doublingJSON)
	if len(s.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(s.Nodes))
	}
	tr := s.Nodes[1].Transform()
	if tr == nil {
		t.Fatalf("expected transform config, got %T", s.Nodes[1].Config)
	}
	if tr.ProcessingType != "multiply" || tr.TimeoutMS != 2000 {
		t.Errorf("unexpected transform config: %+v", tr)
	}
	if _, ok := s.Nodes[0].Config.(*InputConfig); !ok {
		t.Errorf("expected *InputConfig, got %T", s.Nodes[0].Config)
	}
}

func TestParse_RejectsForeignConfigShape(t *testing.T) {
	tests := []struct {
		name string
		node string
	}{
		{"loop field on transform", `{"node_id":"a","node_type":"transform","config":{"processing_type":"x","body":["b"]}}`},
		{"transform field on output", `{"node_id":"a","node_type":"output","config":{"ports":{"r":"x"},"processing_type":"y"}}`},
		{"unknown type", `{"node_id":"a","node_type":"webhook","config":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"id":"s","version":1,"nodes":[` + tt.node + `]}`
			if _, err := Parse([]byte(doc)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestCompile_Valid(t *testing.T) {
	g, err := Compile(mustParse(t, doublingJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	levels := g.Levels()
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %v", levels)
	}
	if levels[0][0] != "in" || levels[1][0] != "double" || levels[2][0] != "out" {
		t.Errorf("unexpected order: %v", levels)
	}
}

func node(id string, typ NodeType, cfg NodeConfig, deps ...string) Node {
	return Node{ID: id, Type: typ, Config: cfg, DependsOn: deps}
}

func leafExpr(path string) *condition.Expr {
	return &condition.Expr{Op: condition.OpExists, Var: path}
}

func transform(id string, deps ...string) Node {
	return node(id, NodeTransform, &TransformConfig{ProcessingType: "echo"}, deps...)
}

func TestCompile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		schema  PipelineSchema
		message string
	}{
		{
			name:    "missing id",
			schema:  PipelineSchema{Version: 1, Nodes: []Node{transform("a")}},
			message: "id: is required",
		},
		{
			name:    "duplicate node",
			schema:  PipelineSchema{ID: "s", Version: 1, Nodes: []Node{transform("a"), transform("a")}},
			message: "duplicate node id",
		},
		{
			name:    "unknown dependency",
			schema:  PipelineSchema{ID: "s", Version: 1, Nodes: []Node{transform("a", "ghost")}},
			message: `unknown node "ghost"`,
		},
		{
			name: "cycle",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				transform("a", "c"), transform("b", "a"), transform("c", "b"),
			}},
			message: "cycle detected",
		},
		{
			name: "config mismatch",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("a", NodeLoop, &TransformConfig{ProcessingType: "x"}),
			}},
			message: "does not match node_type",
		},
		{
			name: "loop needs one source",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("l", NodeLoop, &LoopConfig{Iterations: 2, Items: "input.list", Body: []string{"a"}}),
				transform("a"),
			}},
			message: "exactly one of iterations or items",
		},
		{
			name: "body claimed twice",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("l1", NodeLoop, &LoopConfig{Iterations: 2, Body: []string{"a"}}),
				node("l2", NodeLoop, &LoopConfig{Iterations: 2, Body: []string{"a"}}),
				transform("a"),
			}},
			message: "already belongs",
		},
		{
			name: "top-level node reads loop body",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("l", NodeLoop, &LoopConfig{Iterations: 2, Body: []string{"a"}}),
				transform("a"),
				transform("b", "a"),
			}},
			message: "nested in",
		},
		{
			name: "branch target missing",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("c", NodeCondition, &ConditionConfig{
					Expression: leafExpr("input.x"),
					TrueBranch: "nowhere",
				}),
			}},
			message: `unknown node "nowhere"`,
		},
		{
			name: "parallel branches write same variable",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("p", NodeParallel, &ParallelConfig{Branches: map[string][]string{"a": {"a1"}, "b": {"b1"}}}),
				node("a1", NodeTransform, &TransformConfig{ProcessingType: "x", OutputVar: "shared"}),
				node("b1", NodeTransform, &TransformConfig{ProcessingType: "x", OutputVar: "shared"}),
			}},
			message: `both write variable "shared"`,
		},
		{
			name: "reduce without reducer",
			schema: PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
				node("m", NodeMerge, &MergeConfig{Strategy: CombineReduce}),
			}},
			message: "reducer: is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.HasCode(err, errors.ErrCodeSchemaInvalid) {
				t.Errorf("expected SCHEMA_INVALID, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("expected error containing %q, got %q", tt.message, err.Error())
			}
		})
	}
}

func TestCompile_LoopBodyMayReferenceLaterIteration(t *testing.T) {
	s := PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
		node("l", NodeLoop, &LoopConfig{Iterations: 3, Body: []string{"a", "b"}}),
		transform("a", "b"),
		transform("b", "a"),
	}}
	g, err := Compile(&s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner, _ := g.Owner("a"); owner != "l" {
		t.Errorf("expected owner l, got %q", owner)
	}
	if len(g.Levels()) != 1 || len(g.Levels()[0]) != 1 {
		t.Errorf("expected only the loop at top level, got %v", g.Levels())
	}
}

func TestCompile_LiftsExternalDependencies(t *testing.T) {
	s := PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
		transform("src"),
		node("p", NodeParallel, &ParallelConfig{Branches: map[string][]string{"a": {"a1"}}}),
		transform("a1", "src"),
	}}
	g, err := Compile(&s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deps := g.ScopeDeps("p")
	if len(deps) != 1 || deps[0] != "src" {
		t.Errorf("expected p to depend on src, got %v", deps)
	}
	levels := g.Levels()
	if len(levels) != 2 || levels[1][0] != "p" {
		t.Errorf("expected p after src, got %v", levels)
	}
}

func TestCompile_ConditionBranchesAreImplicitEdges(t *testing.T) {
	s := PipelineSchema{ID: "s", Version: 1, Nodes: []Node{
		node("c", NodeCondition, &ConditionConfig{Expression: leafExpr("input.x"), TrueBranch: "yes", FalseBranch: "no"}),
		transform("yes"),
		transform("no"),
	}}
	g, err := Compile(&s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.IsBranchTarget("c", "yes") || !g.IsBranchTarget("c", "no") {
		t.Error("expected both targets to be branch targets")
	}
	if preds := g.Predecessors("yes"); len(preds) != 1 || preds[0] != "c" {
		t.Errorf("expected yes to depend on c, got %v", preds)
	}
}

func TestCompile_StrictVariables(t *testing.T) {
	base := func(varPath string) PipelineSchema {
		return PipelineSchema{
			ID: "s", Version: 1, Strict: true,
			InputSchema: []FieldSpec{{Name: "x", Type: "number"}},
			Nodes: []Node{
				node("in", NodeInput, &InputConfig{Mapping: map[string]string{"amount": "input.x"}}),
				node("c", NodeCondition, &ConditionConfig{Expression: leafExpr(varPath), TrueBranch: "t"}, "in"),
				transform("t"),
			},
		}
	}
	tests := []struct {
		path string
		ok   bool
	}{
		{"input.x", true},
		{"input.y", false},
		{"vars.amount", true},
		{"amount", true},
		{"amuont", false},
		{"nodes.in.output", true},
		{"nodes.ghost.output", false},
		{"loop.index", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s := base(tt.path)
			err := s.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected undeclared variable error")
			}
		})
	}

	s := base("input.y")
	s.Strict = false
	if err := s.Validate(); err != nil {
		t.Errorf("expected permissive mode to accept undeclared variable, got %v", err)
	}
}

func TestLoader_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlDoc := `
id: fanout
version: 2
nodes:
  - node_id: p
    node_type: parallel
    config:
      merge_strategy: all
      error_handling: collect
      branches:
        left: [l1]
        right: [r1]
  - node_id: l1
    node_type: transform
    config: {processing_type: echo}
  - node_id: r1
    node_type: transform
    config: {processing_type: echo}
  - node_id: join
    node_type: merge
    depends_on: [p]
    config:
      strategy: concat
      inputs: [l1, r1]
`
	if err := os.WriteFile(filepath.Join(dir, "fanout.yaml"), []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "double.json"), []byte(doublingJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewFileLoader(dir)

	s, err := loader.Load("fanout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Version != 2 {
		t.Errorf("expected version 2, got %d", s.Version)
	}
	p := s.Nodes[0].Parallel()
	if p == nil || p.Policy() != Collect || len(p.Branches) != 2 {
		t.Fatalf("unexpected parallel config: %+v", p)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	d, err := loader.Load("double")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID != "double" {
		t.Errorf("expected double, got %q", d.ID)
	}

	if _, err := loader.Load("missing"); err == nil {
		t.Error("expected not found error")
	}
}

func TestMarshalYAML_RoundTrip(t *testing.T) {
	s := mustParse(t, doublingJSON)
	out, err := MarshalYAML(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	back, err := ParseYAML(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Nodes[1].Transform().ProcessingType != "multiply" {
		t.Errorf("expected transform to survive, got %+v", back.Nodes[1].Config)
	}
}

func TestLoopConfig_Defaults(t *testing.T) {
	c := &LoopConfig{}
	if c.LoopVariable() != DefaultLoopVariable {
		t.Errorf("expected %q, got %q", DefaultLoopVariable, c.LoopVariable())
	}
	if c.Cap() != DefaultMaxIterations {
		t.Errorf("expected %d, got %d", DefaultMaxIterations, c.Cap())
	}
	p := &ParallelConfig{}
	if p.Strategy() != MergeAll || p.Policy() != FailFast {
		t.Errorf("unexpected defaults: %s %s", p.Strategy(), p.Policy())
	}
}
