package depgraph

import "container/heap"

// validateAcyclic proves the graph has no cycles using Kahn's algorithm and,
// when one exists, extracts a deterministic witness.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return &CycleError{Path: g.findCycle()}
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices emits a crate once all of its dependencies were emitted.
// The ready set is a min-heap on declaration index.
func (g *Graph) topoOrderIndices() []int {
	pending := make([]int, len(g.nodes))
	for i := range g.dependencies {
		pending[i] = len(g.dependencies[i])
	}

	ready := &intMinHeap{}
	for i, n := range pending {
		if n == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			pending[m]--
			if pending[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle runs a DFS over crates in declaration order, following each
// crate's dependencies in declaration order. The first back-edge u -> v
// yields the path from v down the DFS stack to u, closed by v.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	var stack []int
	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.dependencies[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(append(cycle, stack[i:]...), v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	return g.names(cycle)
}
