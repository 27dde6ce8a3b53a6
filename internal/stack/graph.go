// File: internal/stack/graph.go
// Brief: Dependency graph over stacks.

package stack

import (
	"sort"
)

// GraphOptions control how BuildGraph treats edges to stacks outside the set.
type GraphOptions struct {
	// IgnoreMissing drops edges whose target is not in the stack set instead of
	// failing with *MissingDependencyError.
	IgnoreMissing bool
}

// Graph is an acyclic dependency graph. An edge goes from a stack to each of
// its dependencies.
type Graph struct {
	nodes      []string
	deps       map[string][]string
	dependents map[string][]string
}

// BuildGraph builds and validates the graph for stacks. It fails with
// *MissingDependencyError or *CyclicDependencyError.
func BuildGraph(stacks []*Stack, opts GraphOptions) (*Graph, error) {
	in := map[string]struct{}{}
	for _, s := range stacks {
		in[s.Name] = struct{}{}
	}
	for _, s := range stacks {
		for _, dep := range s.Dependencies {
			if _, ok := in[dep]; !ok && !opts.IgnoreMissing {
				return nil, &MissingDependencyError{Stack: s.Name, Dependency: dep}
			}
		}
	}
	g := newGraph(stacks)
	if _, stuck := g.layers(); len(stuck) > 0 {
		cycle := findCyclePath(stuck, g.deps)
		if len(cycle) == 0 {
			cycle = stuck
		}
		return nil, &CyclicDependencyError{Cycle: cycle}
	}
	return g, nil
}

// newGraph builds a graph without validation, dropping edges to unknown nodes.
func newGraph(stacks []*Stack) *Graph {
	g := &Graph{
		deps:       map[string][]string{},
		dependents: map[string][]string{},
	}
	in := map[string]struct{}{}
	for _, s := range stacks {
		if _, dup := in[s.Name]; dup {
			continue
		}
		in[s.Name] = struct{}{}
		g.nodes = append(g.nodes, s.Name)
	}
	for _, s := range stacks {
		for _, dep := range s.Dependencies {
			if _, ok := in[dep]; !ok {
				continue
			}
			g.deps[s.Name] = appendUnique(g.deps[s.Name], dep)
			g.dependents[dep] = appendUnique(g.dependents[dep], s.Name)
		}
	}
	sort.Strings(g.nodes)
	for k := range g.deps {
		sort.Strings(g.deps[k])
	}
	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
	return g
}

func appendUnique(list []string, v string) []string {
	for _, cur := range list {
		if cur == v {
			return list
		}
	}
	return append(list, v)
}

// Nodes returns every stack in the graph, sorted.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Order groups the stacks into batches: every dependency of a stack is in an
// earlier batch. Batch members are sorted by name.
func (g *Graph) Order() [][]string {
	batches, _ := g.layers()
	return batches
}

// Reverse returns the graph with every edge inverted, so dependents come
// before their dependencies.
func (g *Graph) Reverse() *Graph {
	return &Graph{
		nodes:      append([]string(nil), g.nodes...),
		deps:       cloneEdges(g.dependents),
		dependents: cloneEdges(g.deps),
	}
}

func cloneEdges(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Direct returns the immediate dependencies of id.
func (g *Graph) Direct(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// DepsOf returns the transitive dependencies of id.
func (g *Graph) DepsOf(id string) []string {
	return walk(g.deps, id)
}

// DependentsOf returns the transitive dependents of id.
func (g *Graph) DependentsOf(id string) []string {
	return walk(g.dependents, id)
}

func walk(edges map[string][]string, id string) []string {
	var out []string
	seen := map[string]struct{}{}
	var visit func(string)
	visit = func(cur string) {
		for _, next := range edges[cur] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
			visit(next)
		}
	}
	visit(id)
	sort.Strings(out)
	return out
}

// Edges returns every (stack, dependency) pair, sorted.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for from, deps := range g.deps {
		for _, to := range deps {
			edges = append(edges, [2]string{from, to})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}
