package settlement

// stronglyConnected returns the strongly connected components of the
// directed graph adj, where adj[v] lists the successors of node v. Nodes
// are dense indices; each component is a slice of node indices.
// Components are emitted in reverse topological order (Tarjan).
func stronglyConnected(adj [][]int) [][]int {
	const unvisited = -1

	n := len(adj)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}

	var (
		next  int
		stack []int
		comps [][]int
	)

	var visit func(v int)
	visit = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			switch {
			case index[w] == unvisited:
				visit(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		comps = append(comps, comp)
	}

	for v := 0; v < n; v++ {
		if index[v] == unvisited {
			visit(v)
		}
	}
	return comps
}
