package schema

import "github.com/kbukum/taskflow/condition"

// NodeType is the discriminant of a node's config.
type NodeType string

const (
	NodeInput     NodeType = "input"
	NodeOutput    NodeType = "output"
	NodeTransform NodeType = "transform"
	NodeCondition NodeType = "condition"
	NodeLoop      NodeType = "loop"
	NodeParallel  NodeType = "parallel"
	NodeMerge     NodeType = "merge"
)

// NodeTypes lists every supported node type.
var NodeTypes = []NodeType{NodeInput, NodeOutput, NodeTransform, NodeCondition, NodeLoop, NodeParallel, NodeMerge}

// PipelineSchema is an immutable, versioned workflow definition.
type PipelineSchema struct {
	ID           string      `json:"id" validate:"required"`
	Version      int         `json:"version" validate:"gte=1"`
	Name         string      `json:"name,omitempty"`
	Description  string      `json:"description,omitempty"`
	Nodes        []Node      `json:"nodes" validate:"required,min=1,dive"`
	Edges        []Edge      `json:"edges,omitempty" validate:"dive"`
	InputSchema  []FieldSpec `json:"input_schema,omitempty" validate:"dive"`
	OutputSchema []string    `json:"output_schema,omitempty"`
	// Strict requires every variable a condition references to be declared
	// by the input schema or produced by a node.
	Strict bool `json:"strict,omitempty"`
}

// FieldSpec declares one field of the execution input.
type FieldSpec struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type,omitempty" validate:"omitempty,oneof=string number boolean object array any"`
	Required bool   `json:"required,omitempty"`
}

// Node is a unit of work. Config holds exactly one of the *Config types
// below, matching Type.
type Node struct {
	ID        string     `json:"node_id" validate:"required"`
	Type      NodeType   `json:"node_type" validate:"required,oneof=input output transform condition loop parallel merge"`
	Name      string     `json:"name,omitempty"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Config    NodeConfig `json:"config" validate:"-"`
}

// Edge connects source to target. A guard that evaluates false deactivates
// the edge for the run.
type Edge struct {
	Source     string          `json:"source_node_id" validate:"required"`
	Target     string          `json:"target_node_id" validate:"required"`
	SourcePort string          `json:"source_port,omitempty"`
	TargetPort string          `json:"target_port,omitempty"`
	Condition  *condition.Expr `json:"condition,omitempty"`
}

// NodeConfig is implemented by the per-type config structs only.
type NodeConfig interface {
	nodeType() NodeType
}

// InputConfig copies execution input into context variables.
type InputConfig struct {
	// Mapping is target variable -> source path.
	Mapping  map[string]string `json:"mapping,omitempty"`
	Required []string          `json:"required,omitempty"`
}

// OutputConfig binds named output ports to context paths.
type OutputConfig struct {
	Ports map[string]string `json:"ports" validate:"required,min=1"`
}

// TransformConfig dispatches to a processor.
type TransformConfig struct {
	ProcessingType string            `json:"processing_type" validate:"required"`
	Params         map[string]any    `json:"params,omitempty"`
	TimeoutMS      int               `json:"timeout_ms,omitempty" validate:"gte=0"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	OutputVar      string            `json:"output_var,omitempty"`
	// Async processors acknowledge and report completion via callback.
	Async bool `json:"async,omitempty"`
}

// ConditionConfig selects one of two branch targets.
type ConditionConfig struct {
	Expression  *condition.Expr `json:"expression" validate:"required"`
	TrueBranch  string          `json:"true_branch,omitempty"`
	FalseBranch string          `json:"false_branch,omitempty"`
}

// LoopConfig re-executes Body per iteration.
type LoopConfig struct {
	Iterations     int             `json:"iterations,omitempty" validate:"gte=0"`
	Items          string          `json:"items,omitempty"`
	Variable       string          `json:"variable,omitempty"`
	BreakCondition *condition.Expr `json:"break_condition,omitempty"`
	Body           []string        `json:"body" validate:"required,min=1"`
	MaxIterations  int             `json:"max_iterations,omitempty" validate:"gte=0"`
}

const (
	DefaultLoopVariable  = "item"
	DefaultMaxIterations = 1000
)

// LoopVariable returns the configured variable name or the default.
func (c *LoopConfig) LoopVariable() string {
	if c.Variable == "" {
		return DefaultLoopVariable
	}
	return c.Variable
}

// Cap returns the iteration safety cap.
func (c *LoopConfig) Cap() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.MaxIterations
}

// MergeStrategy controls how a parallel node resolves.
type MergeStrategy string

const (
	MergeAll   MergeStrategy = "all"
	MergeFirst MergeStrategy = "first"
	MergeRace  MergeStrategy = "race"
)

// ErrorHandling controls how branch failures propagate.
type ErrorHandling string

const (
	FailFast ErrorHandling = "fail_fast"
	Collect  ErrorHandling = "collect"
	Ignore   ErrorHandling = "ignore"
)

// ParallelConfig runs named branches concurrently. Each branch is a node id
// list executed in order.
type ParallelConfig struct {
	Branches      map[string][]string `json:"branches" validate:"required,min=1"`
	MergeStrategy MergeStrategy       `json:"merge_strategy,omitempty" validate:"omitempty,oneof=all first race"`
	ErrorHandling ErrorHandling       `json:"error_handling,omitempty" validate:"omitempty,oneof=fail_fast collect ignore"`
}

// Strategy returns the merge strategy, defaulting to all.
func (c *ParallelConfig) Strategy() MergeStrategy {
	if c.MergeStrategy == "" {
		return MergeAll
	}
	return c.MergeStrategy
}

// Policy returns the error policy, defaulting to fail_fast.
func (c *ParallelConfig) Policy() ErrorHandling {
	if c.ErrorHandling == "" {
		return FailFast
	}
	return c.ErrorHandling
}

// CombineStrategy is a merge node's combination rule.
type CombineStrategy string

const (
	CombineConcat CombineStrategy = "concat"
	CombineMerge  CombineStrategy = "merge"
	CombineReduce CombineStrategy = "reduce"
)

// MergeConfig combines upstream outputs.
type MergeConfig struct {
	Strategy CombineStrategy `json:"strategy" validate:"required,oneof=concat merge reduce"`
	// Inputs are node ids or context paths, combined in declared order.
	// Empty means the node's predecessors in edge order.
	Inputs  []string `json:"inputs,omitempty"`
	Reducer string   `json:"reducer,omitempty"`
	Initial any      `json:"initial,omitempty"`
}

func (*InputConfig) nodeType() NodeType     { return NodeInput }
func (*OutputConfig) nodeType() NodeType    { return NodeOutput }
func (*TransformConfig) nodeType() NodeType { return NodeTransform }
func (*ConditionConfig) nodeType() NodeType { return NodeCondition }
func (*LoopConfig) nodeType() NodeType      { return NodeLoop }
func (*ParallelConfig) nodeType() NodeType  { return NodeParallel }
func (*MergeConfig) nodeType() NodeType     { return NodeMerge }

// Node returns the node with the given id.
func (s *PipelineSchema) Node(id string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}
