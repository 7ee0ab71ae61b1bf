// Package depgraph holds the resolved dependency graph and the builder that
// materializes it from a set of root requirements.
package depgraph

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
	"github.com/vk/pkgplan/internal/settings"
)

// RootID is the ID of the virtual node standing for the root request.
const RootID = 0

// Edge connects a dependency (From) to the node that requires it (To).
// Build order places From before To.
type Edge struct {
	From int
	To   int
	// Private edges do not expose From to consumers of To.
	Private bool
	// BuildRequire edges are needed to build To but are not linked into it.
	BuildRequire bool
}

// Node is one resolved package. Nodes are owned by their Graph.
type Node struct {
	ID  int
	Ref ref.Reference
	// Recipe is nil for the root node.
	Recipe   *recipe.Recipe
	Settings *settings.Values
	Options  *settings.Values
	// Deps are the edges to the node's dependencies, in declaration order.
	Deps []Edge
	// Dependents are the edges from nodes that require this one, in the
	// order they were added.
	Dependents []Edge
	// IsBuildRequire is set when the node is only reachable through
	// build-require edges.
	IsBuildRequire bool
	// CppInfo is what the node exports to consumers. It starts as the
	// recipe's declaration and may be replaced by a package_info hook.
	CppInfo  *recipe.CppInfo
	UserInfo map[string]string
}

// IsRoot reports whether n is the virtual root.
func (n *Node) IsRoot() bool { return n.ID == RootID }

// Name returns the package name, or "root" for the virtual root.
func (n *Node) Name() string {
	if n.IsRoot() {
		return "root"
	}
	return n.Ref.Name()
}

func (n *Node) String() string {
	if n.IsRoot() {
		return "root"
	}
	return n.Ref.String()
}

// Graph is a directed graph of package nodes with IDs in insertion order.
type Graph struct {
	mutex  sync.RWMutex
	nodes  []*Node
	byName map[string]*Node
}

// New creates a graph holding only the virtual root node.
func New() *Graph {
	g := &Graph{byName: make(map[string]*Node)}
	g.nodes = append(g.nodes, &Node{ID: RootID})
	return g
}

// AddNode appends a node for r. Adding a second node for the same package
// name returns the existing node.
func (g *Graph) AddNode(r ref.Reference, rec *recipe.Recipe) (*Node, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if n, ok := g.byName[r.Name()]; ok {
		return n, false
	}
	n := &Node{ID: len(g.nodes), Ref: r, Recipe: rec}
	if rec != nil {
		info := rec.CppInfo.Clone()
		n.CppInfo = &info
		n.UserInfo = maps.Clone(rec.UserInfo)
	}
	g.nodes = append(g.nodes, n)
	g.byName[r.Name()] = n
	return n, true
}

// AddEdge records that node `to` requires node `from`. A repeated edge
// between the same pair is ignored.
func (g *Graph) AddEdge(e Edge) error {
	if e.From == e.To {
		return fmt.Errorf("self-referential edge not allowed: %d -> %d", e.From, e.From)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if e.From < 0 || e.From >= len(g.nodes) {
		return fmt.Errorf("source node not found: %d", e.From)
	}
	if e.To < 0 || e.To >= len(g.nodes) {
		return fmt.Errorf("destination node not found: %d", e.To)
	}

	to := g.nodes[e.To]
	if slices.ContainsFunc(to.Deps, func(d Edge) bool { return d.From == e.From }) {
		return nil
	}
	to.Deps = append(to.Deps, e)
	g.nodes[e.From].Dependents = append(g.nodes[e.From].Dependents, e)
	return nil
}

// Root returns the virtual root node.
func (g *Graph) Root() *Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.nodes[RootID]
}

// Node returns the node with the given ID.
func (g *Graph) Node(id int) (*Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if id < 0 || id >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[id], true
}

// Lookup returns the node for a package name.
func (g *Graph) Lookup(name string) (*Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	n, ok := g.byName[name]
	return n, ok
}

// Nodes returns every node, root included, ordered by ID.
func (g *Graph) Nodes() []*Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return slices.Clone(g.nodes)
}

// Len returns the number of nodes including the root.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// DetectCycles walks requirements depth-first from every node in ID order.
// The first cycle found is returned as a GraphError wrapping a CycleError
// whose path starts and ends with the same reference.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// permanent: fully visited, not on a cycle.
	// onStack: index into stack for nodes in the current traversal.
	permanent := make(map[int]bool)
	onStack := make(map[int]int)
	var stack []*Node

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n.ID] {
			return nil
		}
		if idx, ok := onStack[n.ID]; ok {
			path := make([]ref.Reference, 0, len(stack)-idx+1)
			for _, s := range stack[idx:] {
				path = append(path, s.Ref)
			}
			path = append(path, n.Ref)
			return &resolveerr.GraphError{Stack: refsOf(stack), Err: &resolveerr.CycleError{Path: path}}
		}

		onStack[n.ID] = len(stack)
		stack = append(stack, n)
		for _, dep := range n.Deps {
			if err := visit(g.nodes[dep.From]); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, n.ID)
		permanent[n.ID] = true
		return nil
	}

	for _, n := range g.nodes {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

func refsOf(stack []*Node) []ref.Reference {
	out := make([]ref.Reference, 0, len(stack))
	for _, n := range stack {
		if n.IsRoot() {
			continue
		}
		out = append(out, n.Ref)
	}
	return out
}
