package render

import (
	"fmt"
	"sort"
)

// TopoSort computes a stable topological order over the nodes reachable from
// the graph root. Among nodes whose dependencies are all scheduled, the
// lexicographically smallest id is picked next, so identical graphs produce
// identical schedules across runs.
func TopoSort(g *Graph) ([]NodeID, error) {
	root := g.NodeByID(g.Root)
	if root == nil {
		return nil, fmt.Errorf("%w: root node %q not found", ErrInvalidGraph, g.Root)
	}

	// Reverse reachability from the root; unreachable nodes do not execute.
	reachable := make(map[NodeID]bool)
	stack := []NodeID{g.Root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		if n := g.NodeByID(id); n != nil {
			for _, upstream := range n.Inputs {
				stack = append(stack, upstream)
			}
		}
	}

	pending := make([]NodeID, 0, len(reachable))
	for id := range reachable {
		pending = append(pending, id)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	scheduled := make(map[NodeID]bool, len(pending))
	order := make([]NodeID, 0, len(pending))
	for len(order) < len(pending) {
		progressed := false
		for _, id := range pending {
			if scheduled[id] {
				continue
			}
			n := g.NodeByID(id)
			ready := true
			for _, upstream := range n.Inputs {
				if reachable[upstream] && !scheduled[upstream] {
					ready = false
					break
				}
			}
			if ready {
				scheduled[id] = true
				order = append(order, id)
				progressed = true
				break
			}
		}
		if !progressed {
			return nil, ErrCycle
		}
	}
	return order, nil
}
