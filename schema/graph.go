package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Dependency is one incoming link of a node: an edge, a depends_on entry or
// the implicit link from a condition node to its branch targets.
type Dependency struct {
	Source string
	// Edge is nil for depends_on entries and implicit branch links.
	Edge *Edge
}

// Graph is the analyzed shape of a schema: scopes, dependencies and the
// top-level visitation order.
type Graph struct {
	Schema *PipelineSchema

	nodes  map[string]*Node
	index  map[string]int
	owner  map[string]string
	branch map[string]string
	deps   map[string][]Dependency
	scope  map[string][]string
	levels [][]string
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Owner returns the loop or parallel node whose body contains id.
func (g *Graph) Owner(id string) (string, bool) {
	o, ok := g.owner[id]
	return o, ok
}

// Branch returns the parallel branch name containing id, if any.
func (g *Graph) Branch(id string) string { return g.branch[id] }

// Deps returns every incoming dependency of id in declaration order.
func (g *Graph) Deps(id string) []Dependency { return g.deps[id] }

// ScopeDeps returns the dependencies of id lifted into id's own scope.
func (g *Graph) ScopeDeps(id string) []string { return g.scope[id] }

// Levels returns the top-level nodes grouped by dependency depth. Nodes in
// one level are independent of each other.
func (g *Graph) Levels() [][]string { return g.levels }

// Predecessors returns the distinct sources of id's dependencies in order.
func (g *Graph) Predecessors(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range g.deps[id] {
		if !seen[d.Source] {
			seen[d.Source] = true
			out = append(out, d.Source)
		}
	}
	return out
}

// IsBranchTarget reports whether target is one of cond's branch targets.
func (g *Graph) IsBranchTarget(cond, target string) bool {
	n := g.nodes[cond]
	if n == nil {
		return false
	}
	c := n.Condition()
	return c != nil && (c.TrueBranch == target || c.FalseBranch == target)
}

// ancestors returns id followed by its owners, innermost first.
func (g *Graph) ancestors(id string) []string {
	chain := []string{id}
	for {
		o, ok := g.owner[id]
		if !ok {
			return chain
		}
		chain = append(chain, o)
		id = o
	}
}

// Within reports whether id is nested, at any depth, inside owner.
func (g *Graph) Within(id, owner string) bool {
	for _, a := range g.ancestors(id)[1:] {
		if a == owner {
			return true
		}
	}
	return false
}

// analyze builds the graph and reports every structural problem through
// report. It assumes node ids are unique.
func analyze(s *PipelineSchema, report func(field, msg string)) *Graph {
	g := &Graph{
		Schema: s,
		nodes:  make(map[string]*Node, len(s.Nodes)),
		index:  make(map[string]int, len(s.Nodes)),
		owner:  make(map[string]string),
		branch: make(map[string]string),
		deps:   make(map[string][]Dependency),
		scope:  make(map[string][]string),
	}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		g.nodes[n.ID] = n
		g.index[n.ID] = i
	}

	g.collectOwnership(report)
	g.collectDeps(report)
	g.liftDeps(report)
	g.checkBranchOrder(report)
	g.buildLevels(report)
	return g
}

func (g *Graph) claim(member, owner, branch, field string, report func(field, msg string)) {
	if _, ok := g.nodes[member]; !ok {
		report(field, fmt.Sprintf("references unknown node %q", member))
		return
	}
	if member == owner {
		report(field, "a node cannot contain itself")
		return
	}
	if prev, ok := g.owner[member]; ok {
		report(field, fmt.Sprintf("node %q already belongs to %q", member, prev))
		return
	}
	g.owner[member] = owner
	if branch != "" {
		g.branch[member] = branch
	}
}

func (g *Graph) collectOwnership(report func(field, msg string)) {
	for i, n := range g.Schema.Nodes {
		switch cfg := n.Config.(type) {
		case *LoopConfig:
			for j, id := range cfg.Body {
				g.claim(id, n.ID, "", fmt.Sprintf("nodes[%d].config.body[%d]", i, j), report)
			}
		case *ParallelConfig:
			for _, name := range sortedKeys(cfg.Branches) {
				for j, id := range cfg.Branches[name] {
					g.claim(id, n.ID, name, fmt.Sprintf("nodes[%d].config.branches.%s[%d]", i, name, j), report)
				}
			}
		}
	}

	// Ownership must be a forest.
	for id := range g.owner {
		seen := map[string]bool{id: true}
		for cur := g.owner[id]; cur != ""; cur = g.owner[cur] {
			if seen[cur] {
				report("nodes", fmt.Sprintf("node %q is nested inside itself", id))
				delete(g.owner, id)
				break
			}
			seen[cur] = true
		}
	}
}

func (g *Graph) addDep(target string, d Dependency) {
	for _, existing := range g.deps[target] {
		if existing.Source == d.Source && existing.Edge == nil && d.Edge == nil {
			return
		}
	}
	g.deps[target] = append(g.deps[target], d)
}

func (g *Graph) collectDeps(report func(field, msg string)) {
	s := g.Schema
	for i := range s.Edges {
		e := &s.Edges[i]
		field := fmt.Sprintf("edges[%d]", i)
		_, okSrc := g.nodes[e.Source]
		_, okDst := g.nodes[e.Target]
		if !okSrc {
			report(field+".source_node_id", fmt.Sprintf("references unknown node %q", e.Source))
		}
		if !okDst {
			report(field+".target_node_id", fmt.Sprintf("references unknown node %q", e.Target))
		}
		if !okSrc || !okDst {
			continue
		}
		if e.Source == e.Target {
			report(field, "self-loop")
			continue
		}
		g.addDep(e.Target, Dependency{Source: e.Source, Edge: e})
	}

	for i, n := range s.Nodes {
		for j, dep := range n.DependsOn {
			field := fmt.Sprintf("nodes[%d].depends_on[%d]", i, j)
			if _, ok := g.nodes[dep]; !ok {
				report(field, fmt.Sprintf("references unknown node %q", dep))
				continue
			}
			if dep == n.ID {
				report(field, "a node cannot depend on itself")
				continue
			}
			if g.hasEdge(dep, n.ID) {
				continue
			}
			g.addDep(n.ID, Dependency{Source: dep})
		}

		c := n.Condition()
		if c == nil {
			continue
		}
		for _, t := range []struct{ field, id string }{
			{"true_branch", c.TrueBranch},
			{"false_branch", c.FalseBranch},
		} {
			if t.id == "" {
				continue
			}
			field := fmt.Sprintf("nodes[%d].config.%s", i, t.field)
			if _, ok := g.nodes[t.id]; !ok {
				report(field, fmt.Sprintf("references unknown node %q", t.id))
				continue
			}
			if t.id == n.ID {
				report(field, "a condition cannot branch to itself")
				continue
			}
			if g.owner[t.id] != g.owner[n.ID] {
				report(field, fmt.Sprintf("branch target %q must be in the same scope as the condition", t.id))
				continue
			}
			if !g.hasEdge(n.ID, t.id) {
				g.addDep(t.id, Dependency{Source: n.ID})
			}
		}
	}
}

func (g *Graph) hasEdge(source, target string) bool {
	for _, d := range g.deps[target] {
		if d.Source == source {
			return true
		}
	}
	return false
}

// liftDeps maps every dependency onto the ancestor of its target that
// shares the source's scope. A source nested deeper than its consumer is
// invisible to it.
func (g *Graph) liftDeps(report func(field, msg string)) {
	for _, n := range g.Schema.Nodes {
		for _, d := range g.deps[n.ID] {
			srcOwner := g.owner[d.Source]
			lifted := ""
			for _, a := range g.ancestors(n.ID) {
				if g.owner[a] == srcOwner {
					lifted = a
					break
				}
			}
			if lifted == "" {
				report("nodes."+n.ID, fmt.Sprintf("depends on %q, which is nested in %q", d.Source, srcOwner))
				continue
			}
			if lifted == d.Source {
				report("nodes."+n.ID, fmt.Sprintf("depends on its own container %q", d.Source))
				continue
			}
			if !contains(g.scope[lifted], d.Source) {
				g.scope[lifted] = append(g.scope[lifted], d.Source)
			}
		}
	}
}

// checkBranchOrder requires branch members to depend only on earlier
// members of the same branch. Loop bodies run in declared order and may
// read the previous iteration, so they are exempt.
func (g *Graph) checkBranchOrder(report func(field, msg string)) {
	for _, n := range g.Schema.Nodes {
		p := n.Parallel()
		if p == nil {
			continue
		}
		for _, name := range sortedKeys(p.Branches) {
			pos := make(map[string]int)
			for i, id := range p.Branches[name] {
				pos[id] = i
			}
			for i, id := range p.Branches[name] {
				for _, dep := range g.scope[id] {
					if j, ok := pos[dep]; ok && j >= i {
						report("nodes."+id, fmt.Sprintf("depends on %q, which runs later in branch %q", dep, name))
					}
				}
			}
		}
	}
}

// buildLevels runs Kahn's algorithm over the top-level scope. Ties keep
// declaration order.
func (g *Graph) buildLevels(report func(field, msg string)) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	var top []string
	for _, n := range g.Schema.Nodes {
		if _, nested := g.owner[n.ID]; nested {
			continue
		}
		if _, ok := inDegree[n.ID]; ok {
			continue
		}
		top = append(top, n.ID)
		inDegree[n.ID] = 0
	}
	for _, id := range top {
		for _, dep := range g.scope[id] {
			if _, ok := inDegree[dep]; !ok {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for _, id := range top {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		g.levels = append(g.levels, queue)
		visited += len(queue)

		var next []string
		for _, id := range queue {
			for _, d := range dependents[id] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return g.index[next[i]] < g.index[next[j]] })
		queue = next
	}

	if visited != len(top) {
		var stuck []string
		for _, id := range top {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		report("edges", fmt.Sprintf("cycle detected among nodes %s", strings.Join(stuck, ", ")))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
