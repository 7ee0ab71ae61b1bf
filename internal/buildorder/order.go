package buildorder

import (
	"errors"
	"slices"

	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
)

// Level is a set of node IDs, sorted ascending.
type Level []int

// Order returns the build levels of g. The virtual root is always alone in
// the last level when every node is reachable from it.
func Order(g *depgraph.Graph) ([]Level, error) {
	nodes := g.Nodes()
	pending := make(map[int]int, len(nodes))
	var ready Level
	for _, n := range nodes {
		pending[n.ID] = len(n.Deps)
		if len(n.Deps) == 0 {
			ready = append(ready, n.ID)
		}
	}

	var levels []Level
	placed := 0
	for len(ready) > 0 {
		slices.Sort(ready)
		levels = append(levels, ready)
		placed += len(ready)

		var next Level
		for _, id := range ready {
			n, _ := g.Node(id)
			for _, e := range n.Dependents {
				pending[e.To]--
				if pending[e.To] == 0 {
					next = append(next, e.To)
				}
			}
		}
		ready = next
	}

	if placed != len(nodes) {
		return nil, cycleError(g, pending)
	}
	return levels, nil
}

// cycleError prefers the graph's own path report and falls back to listing
// the nodes that could not be placed.
func cycleError(g *depgraph.Graph, pending map[int]int) error {
	err := g.DetectCycles()
	var cycle *resolveerr.CycleError
	if errors.As(err, &cycle) {
		return cycle
	}
	var stuck []ref.Reference
	for _, n := range g.Nodes() {
		if pending[n.ID] > 0 {
			stuck = append(stuck, n.Ref)
		}
	}
	return &resolveerr.CycleError{Path: stuck}
}

// Sequence concatenates levels into a single build sequence.
func Sequence(levels []Level) []int {
	var out []int
	for _, l := range levels {
		out = append(out, l...)
	}
	return out
}

// Positions maps node IDs to the index of their level.
func Positions(levels []Level) map[int]int {
	out := make(map[int]int)
	for i, l := range levels {
		for _, id := range l {
			out[id] = i
		}
	}
	return out
}
