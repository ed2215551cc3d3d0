package graph

import (
	"path/filepath"

	"github.com/gammazero/toposort"
)

// checkAcyclicLocked sorts the static edges topologically and, when that
// fails, extracts a deterministic cycle witness.
func (r *Registry) checkAcyclicLocked() error {
	var edges []toposort.Edge
	for id, deps := range r.deps {
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, NodeID(id)})
			continue
		}
		for _, dep := range deps {
			// A task reading its own output.
			if dep == NodeID(id) {
				return &CycleError{Path: r.namesLocked([]NodeID{dep, dep})}
			}
			edges = append(edges, toposort.Edge{dep, NodeID(id)})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return &CycleError{Path: r.namesLocked(FindCycle(len(r.deps), func(id NodeID) []NodeID {
			return r.deps[id]
		}))}
	}
	return nil
}

func (r *Registry) namesLocked(ids []NodeID) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, filepath.Clean(r.tasks[id].PrimaryOutput()))
	}
	return names
}

// FindCycle returns one cycle over n nodes whose out-edges are given by deps,
// or nil when there is none. The walk visits nodes and edges in index order,
// so the same graph always yields the same witness. In the result each node
// depends on the next and the first node is repeated at the end.
func FindCycle(n int, deps func(NodeID) []NodeID) []NodeID {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, n)
	parent := make([]NodeID, n)
	for i := range parent {
		parent[i] = NoProducer
	}

	var cycle []NodeID
	var dfs func(u NodeID) bool
	dfs = func(u NodeID) bool {
		color[u] = gray
		for _, v := range deps(u) {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back-edge u -> v closes v -> ... -> u -> v.
				cycle = append(cycle, v)
				for cur := u; cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < n; i++ {
		if color[i] == white && dfs(NodeID(i)) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	// Collected backwards along parent links.
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

// Reaches reports whether to is reachable from from along deps.
func Reaches(from, to NodeID, deps func(NodeID) []NodeID) bool {
	seen := map[NodeID]bool{from: true}
	stack := []NodeID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, next := range deps(cur) {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
