// File: internal/stack/dag.go
// Brief: Kahn layering and cycle reporting.

package stack

import (
	"fmt"
	"sort"
	"strings"
)

// layers computes the batches. Nodes that never become ready are returned as
// stuck; they sit on or behind a cycle.
func (g *Graph) layers() ([][]string, []string) {
	inDegree := map[string]int{}
	for _, id := range g.nodes {
		inDegree[id] = len(g.deps[id])
	}
	ready := make([]string, 0, len(g.nodes))
	for _, id := range g.nodes {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var batches [][]string
	assigned := 0
	for len(ready) > 0 {
		wave := append([]string(nil), ready...)
		ready = ready[:0]
		batches = append(batches, wave)
		assigned += len(wave)
		for _, id := range wave {
			for _, next := range g.dependents[id] {
				inDegree[next]--
				if inDegree[next] == 0 {
					ready = append(ready, next)
				}
			}
		}
		sort.Strings(ready)
	}
	if assigned == len(g.nodes) {
		return batches, nil
	}
	var stuck []string
	for _, id := range g.nodes {
		if inDegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	return batches, stuck
}

// findCyclePath returns one cycle among the stuck nodes, following dependency
// edges.
func findCyclePath(stuck []string, deps map[string][]string) []string {
	stuckSet := map[string]struct{}{}
	for _, id := range stuck {
		stuckSet[id] = struct{}{}
	}
	vis := map[string]bool{}
	onStack := map[string]bool{}
	var path []string
	var cycle []string
	var dfs func(string) bool
	dfs = func(id string) bool {
		vis[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, dep := range deps[id] {
			if _, ok := stuckSet[dep]; !ok {
				continue
			}
			if !vis[dep] {
				if dfs(dep) {
					return true
				}
				continue
			}
			if onStack[dep] {
				for i := range path {
					if path[i] == dep {
						cycle = append([]string(nil), path[i:]...)
						break
					}
				}
				return true
			}
		}
		onStack[id] = false
		path = path[:len(path)-1]
		return false
	}
	for _, id := range stuck {
		if vis[id] {
			continue
		}
		if dfs(id) {
			break
		}
	}
	return cycle
}

func cycleString(cycle []string) string {
	if len(cycle) == 0 {
		return "[]"
	}
	parts := append(append([]string(nil), cycle...), cycle[0])
	return fmt.Sprintf("[%s]", strings.Join(parts, " -> "))
}
