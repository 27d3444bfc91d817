package condition

import (
	"fmt"
	"regexp"
)

// Operator names an expression node.
type Operator string

const (
	OpExists   Operator = "exists"
	OpEquals   Operator = "equals"
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
	OpAnd      Operator = "and"
	OpOr       Operator = "or"
	OpNot      Operator = "not"
)

// Expr is one node of a condition tree. Leaves set Var and either Value or
// Ref; combinators set Args.
type Expr struct {
	Op    Operator `json:"op" yaml:"op"`
	Var   string   `json:"var,omitempty" yaml:"var,omitempty"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
	Ref   string   `json:"ref,omitempty" yaml:"ref,omitempty"`
	Args  []*Expr  `json:"args,omitempty" yaml:"args,omitempty"`
}

// Resolver looks up a dotted variable path.
type Resolver interface {
	Resolve(path string) (any, bool)
}

// MapResolver resolves paths against nested maps and slices.
type MapResolver map[string]any

func (m MapResolver) Resolve(path string) (any, bool) {
	return Lookup(map[string]any(m), path)
}

func (e *Expr) isLeaf() bool {
	switch e.Op {
	case OpAnd, OpOr, OpNot:
		return false
	}
	return true
}

// Validate checks the tree's shape: known operators, a variable on every
// leaf, the right arity on combinators and compilable patterns.
func (e *Expr) Validate() error {
	return e.validate("")
}

func (e *Expr) validate(path string) error {
	if e == nil {
		return fmt.Errorf("%sexpression is empty", prefix(path))
	}
	switch e.Op {
	case OpExists:
		if e.Var == "" {
			return fmt.Errorf("%s%s requires var", prefix(path), e.Op)
		}
	case OpEquals, OpGT, OpLT, OpContains:
		if e.Var == "" {
			return fmt.Errorf("%s%s requires var", prefix(path), e.Op)
		}
		if e.Value == nil && e.Ref == "" {
			return fmt.Errorf("%s%s requires value or ref", prefix(path), e.Op)
		}
	case OpRegex:
		if e.Var == "" {
			return fmt.Errorf("%sregex requires var", prefix(path))
		}
		pattern, ok := e.Value.(string)
		if !ok {
			return fmt.Errorf("%sregex value must be a string pattern", prefix(path))
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%sregex: %w", prefix(path), err)
		}
	case OpAnd, OpOr:
		if len(e.Args) == 0 {
			return fmt.Errorf("%s%s requires at least one argument", prefix(path), e.Op)
		}
	case OpNot:
		if len(e.Args) != 1 {
			return fmt.Errorf("%snot requires exactly one argument", prefix(path))
		}
	default:
		return fmt.Errorf("%sunknown operator %q", prefix(path), e.Op)
	}
	for i, a := range e.Args {
		if err := a.validate(fmt.Sprintf("%sargs[%d]", prefix(path), i)); err != nil {
			return err
		}
	}
	return nil
}

func prefix(path string) string {
	if path == "" {
		return ""
	}
	return path + "."
}

// Variables lists every variable path the tree reads, in first-seen order.
func Variables(e *Expr) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n == nil {
			return
		}
		for _, v := range []string{n.Var, n.Ref} {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
		for _, a := range n.Args {
			walk(a)
		}
	}
	walk(e)
	return out
}
