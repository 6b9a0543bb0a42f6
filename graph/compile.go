package graph

import (
	"container/heap"
	"fmt"
	"strings"
)

// Plan is a compiled workflow: the graph's nodes in execution order.
//
// Step k of the plan (0-based) produces checkpoint k+1; checkpoint 0 holds the
// initial state. A Plan is immutable and safe to share between threads.
type Plan struct {
	name  string
	steps []Node
	edges []Edge
	merge MergeTable
	index map[string]int
}

// Compile validates g and orders its nodes topologically.
//
// Validation rules, in the order they are checked:
//   - at least one node; ids non-empty, unique and not the terminal marker
//   - every node names a capability
//   - edge sources are existing nodes, edge targets are existing nodes or the
//     terminal marker
//   - every merge policy is known
//   - exactly one entry node (a node with no incoming edge)
//   - no cycle (a depth-first walk from the entry, then a global check)
//   - the terminal marker is reachable from the entry
//
// Ties in the topological order are broken by declaration order, so compiling
// the same graph twice always yields the same plan. Compilation is
// all-or-nothing: any violation returns a *GraphValidationError and no plan.
func Compile(g WorkflowGraph) (*Plan, error) {
	if len(g.Nodes) == 0 {
		return nil, &GraphValidationError{Invariant: "non-empty", Message: "graph has no nodes"}
	}

	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		switch {
		case n.ID == "":
			return nil, &GraphValidationError{Invariant: "node-id", Message: fmt.Sprintf("node %d has an empty id", i)}
		case n.ID == Terminal:
			return nil, &GraphValidationError{Invariant: "node-id", NodeID: n.ID, Message: "id is reserved for the terminal marker"}
		case n.Capability == "":
			return nil, &GraphValidationError{Invariant: "node-capability", NodeID: n.ID, Message: "no capability named"}
		}
		if _, dup := index[n.ID]; dup {
			return nil, &GraphValidationError{Invariant: "unique-node-ids", NodeID: n.ID, Message: "duplicate node id"}
		}
		index[n.ID] = i
	}

	for i := range g.Edges {
		e := g.Edges[i]
		if _, ok := index[e.Source]; !ok {
			return nil, &GraphValidationError{Invariant: "edge-endpoints", Edge: &e, Message: "source is not a node"}
		}
		if _, ok := index[e.Target]; !ok && e.Target != Terminal {
			return nil, &GraphValidationError{Invariant: "edge-endpoints", Edge: &e, Message: "target is neither a node nor the terminal marker"}
		}
	}

	if err := g.Merge.Validate(); err != nil {
		return nil, &GraphValidationError{Invariant: "merge-policy", Message: err.Error()}
	}

	adj := make([][]int, len(g.Nodes))
	indegree := make([]int, len(g.Nodes))
	terminal := make([]bool, len(g.Nodes))
	for _, e := range g.Edges {
		src := index[e.Source]
		if e.Target == Terminal {
			terminal[src] = true
			continue
		}
		dst := index[e.Target]
		adj[src] = append(adj[src], dst)
		indegree[dst]++
	}

	var entries []string
	for i, n := range g.Nodes {
		if indegree[i] == 0 {
			entries = append(entries, n.ID)
		}
	}
	if len(entries) != 1 {
		msg := "no entry node (every node has an incoming edge)"
		if len(entries) > 1 {
			msg = "multiple entry nodes: " + strings.Join(entries, ", ")
		}
		return nil, &GraphValidationError{Invariant: "single-entry", Message: msg}
	}
	entry := index[entries[0]]

	if closing, ok := findCycle(adj, entry); ok {
		return nil, &GraphValidationError{Invariant: "acyclic", NodeID: g.Nodes[closing].ID, Message: "cycle detected"}
	}

	order, ok := topoOrder(adj, indegree)
	if !ok {
		return nil, &GraphValidationError{Invariant: "acyclic", Message: "cycle among nodes unreachable from the entry"}
	}

	if !reachesTerminal(adj, terminal, entry) {
		return nil, &GraphValidationError{Invariant: "terminal-reachable", NodeID: entries[0], Message: "no path from the entry reaches the terminal marker"}
	}

	p := &Plan{
		name:  g.Name,
		steps: make([]Node, len(order)),
		edges: append([]Edge(nil), g.Edges...),
		merge: g.Merge,
		index: make(map[string]int, len(order)),
	}
	for pos, i := range order {
		p.steps[pos] = g.Nodes[i]
		p.index[g.Nodes[i].ID] = pos
	}
	return p, nil
}

// findCycle walks the graph depth-first from start, marking nodes on the
// current path. Reaching an on-path node closes a cycle; that node is
// returned.
func findCycle(adj [][]int, start int) (int, bool) {
	const (
		unvisited = iota
		onPath
		done
	)
	color := make([]int, len(adj))

	var visit func(n int) (int, bool)
	visit = func(n int) (int, bool) {
		color[n] = onPath
		for _, next := range adj[n] {
			switch color[next] {
			case onPath:
				return next, true
			case unvisited:
				if c, ok := visit(next); ok {
					return c, true
				}
			}
		}
		color[n] = done
		return 0, false
	}

	return visit(start)
}

// topoOrder is Kahn's algorithm with a min-heap of declaration indices. It
// reports false when some nodes could not be ordered.
func topoOrder(adj [][]int, indegree []int) ([]int, bool) {
	remaining := append([]int(nil), indegree...)

	ready := &indexHeap{}
	for i, d := range remaining {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(adj))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		order = append(order, n)
		for _, next := range adj[n] {
			remaining[next]--
			if remaining[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	return order, len(order) == len(adj)
}

func reachesTerminal(adj [][]int, terminal []bool, start int) bool {
	seen := make([]bool, len(adj))
	queue := []int{start}
	seen[start] = true
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if terminal[n] {
			return true
		}
		for _, next := range adj[n] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Name returns the workflow name.
func (p *Plan) Name() string { return p.name }

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Steps returns a copy of the nodes in execution order.
func (p *Plan) Steps() []Node {
	return append([]Node(nil), p.steps...)
}

// Step returns the node at position i.
func (p *Plan) Step(i int) Node { return p.steps[i] }

// Entry returns the id of the entry node.
func (p *Plan) Entry() string { return p.steps[0].ID }

// IndexOf returns the position of node id in the plan.
func (p *Plan) IndexOf(id string) (int, bool) {
	i, ok := p.index[id]
	return i, ok
}

// NodeIDs returns the node ids in execution order.
func (p *Plan) NodeIDs() []string {
	ids := make([]string, len(p.steps))
	for i, n := range p.steps {
		ids[i] = n.ID
	}
	return ids
}

// MergeTable returns the merge table declared on the graph.
func (p *Plan) MergeTable() MergeTable { return p.merge }

// stepName is the checkpoint step name at sequence seq.
func (p *Plan) stepName(seq int) string {
	if seq == 0 {
		return StartStep
	}
	return p.steps[seq-1].ID
}
