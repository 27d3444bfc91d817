package dag

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/kbukum/taskflow/condition"
	"github.com/kbukum/taskflow/schema"
)

// State is the variable store of one execution. Loop iterations and
// parallel branches run in child states that read through to their parent.
//
// Paths:
//
//	input.<field>          execution input
//	nodes.<id>.output      a node's output
//	nodes.<id>.status      a node's status
//	vars.<name> or <name>  a variable
//	loop.index|item|previous  the innermost loop iteration
type State struct {
	mu      sync.RWMutex
	parent  *State
	input   map[string]any
	vars    map[string]any
	outputs map[string]any
	status  map[string]Status
	loop    map[string]any
}

// NewState creates a root state over the execution input.
func NewState(input map[string]any) *State {
	if input == nil {
		input = map[string]any{}
	}
	return &State{
		input:   input,
		vars:    make(map[string]any),
		outputs: make(map[string]any),
		status:  make(map[string]Status),
	}
}

// Child creates a scope whose writes stay local until merged.
func (s *State) Child() *State {
	c := NewState(s.input)
	c.parent = s
	return c
}

var _ condition.Resolver = (*State)(nil)

// Resolve implements condition.Resolver.
func (s *State) Resolve(path string) (any, bool) {
	root, rest, _ := strings.Cut(path, ".")
	switch root {
	case schema.RootInput:
		if rest == "" {
			return s.input, true
		}
		return condition.Lookup(s.input, rest)
	case schema.RootNodes:
		id, sub, _ := strings.Cut(rest, ".")
		st := s.Status(id)
		if st == "" {
			return nil, false
		}
		view := map[string]any{"status": string(st)}
		if out, ok := s.Output(id); ok {
			view["output"] = out
		}
		return descend(view, sub)
	case schema.RootVars:
		name, sub, _ := strings.Cut(rest, ".")
		v, ok := s.Var(name)
		if !ok {
			return nil, false
		}
		return descend(v, sub)
	case schema.RootLoop:
		l := s.loopScope()
		if l == nil {
			return nil, false
		}
		return descend(l, rest)
	}
	v, ok := s.Var(root)
	if !ok {
		return nil, false
	}
	return descend(v, rest)
}

func descend(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	return condition.Lookup(map[string]any{"_": v}, "_."+path)
}

// Set writes a variable in this scope.
func (s *State) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// Var reads a variable from this scope or an enclosing one.
func (s *State) Var(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.vars[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// SetResult records a node's status and output in this scope.
func (s *State) SetResult(id string, status Status, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = status
	if status == StatusCompleted {
		s.outputs[id] = normalize(output)
	}
}

// Output returns a node's output from this scope or an enclosing one.
func (s *State) Output(id string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.outputs[id]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Status returns a node's status, or "" when it has not run in any
// visible scope.
func (s *State) Status(id string) Status {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		st, ok := cur.status[id]
		cur.mu.RUnlock()
		if ok {
			return st
		}
	}
	return ""
}

// SetLoop binds the iteration scope of the innermost loop.
func (s *State) SetLoop(scope map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = scope
}

func (s *State) loopScope() map[string]any {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		l := cur.loop
		cur.mu.RUnlock()
		if l != nil {
			return l
		}
	}
	return nil
}

// Outputs returns the local outputs of ids that ran in this scope.
func (s *State) Outputs(ids []string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		if v, ok := s.outputs[id]; ok {
			out[id] = v
		}
	}
	return out
}

// Merge copies a child's local variables, outputs and statuses into s.
func (s *State) Merge(child *State) {
	child.mu.RLock()
	defer child.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range child.vars {
		s.vars[k] = v
	}
	for k, v := range child.outputs {
		s.outputs[k] = v
	}
	for k, v := range child.status {
		s.status[k] = v
	}
}

// Snapshot returns the variables and node outputs of this scope.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vars := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		vars[k] = v
	}
	nodes := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		nodes[k] = v
	}
	return map[string]any{schema.RootVars: vars, schema.RootNodes: nodes}
}

// normalize turns structured outputs into maps and slices so paths can
// address their fields.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number,
		map[string]any, []any:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
