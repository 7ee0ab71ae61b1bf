package depgraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Root().IsRoot())
	assert.Equal(t, "root", g.Root().String())
}

func TestAddNode(t *testing.T) {
	g := New()

	a, created := g.AddNode(ref.MustParse("a/1.0"), nil)
	require.True(t, created)
	assert.Equal(t, 1, a.ID)

	again, created := g.AddNode(ref.MustParse("a/2.0"), nil)
	assert.False(t, created, "one node per package name")
	assert.Same(t, a, again)

	b, _ := g.AddNode(ref.MustParse("b/1.0"), nil)
	assert.Equal(t, 2, b.ID)

	found, ok := g.Lookup("b")
	require.True(t, ok)
	assert.Same(t, b, found)
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		a, _ := g.AddNode(ref.MustParse("a/1.0"), nil)
		b, _ := g.AddNode(ref.MustParse("b/1.0"), nil)

		require.NoError(t, g.AddEdge(Edge{From: a.ID, To: b.ID, Private: true}))
		require.NoError(t, g.AddEdge(Edge{From: a.ID, To: b.ID}), "repeated edge is ignored")

		require.Len(t, b.Deps, 1)
		assert.True(t, b.Deps[0].Private)
		require.Len(t, a.Dependents, 1)
		assert.Equal(t, b.ID, a.Dependents[0].To)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		a, _ := g.AddNode(ref.MustParse("a/1.0"), nil)

		assert.ErrorContains(t, g.AddEdge(Edge{From: 9, To: a.ID}), "source node not found")
		assert.ErrorContains(t, g.AddEdge(Edge{From: a.ID, To: 9}), "destination node not found")
		assert.ErrorContains(t, g.AddEdge(Edge{From: a.ID, To: a.ID}), "self-referential edge")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("diamond has no cycles", func(t *testing.T) {
		g := New()
		a, _ := g.AddNode(ref.MustParse("a/1.0"), nil)
		b, _ := g.AddNode(ref.MustParse("b/1.0"), nil)
		c, _ := g.AddNode(ref.MustParse("c/1.0"), nil)
		d, _ := g.AddNode(ref.MustParse("d/1.0"), nil)
		require.NoError(t, g.AddEdge(Edge{From: a.ID, To: RootID}))
		require.NoError(t, g.AddEdge(Edge{From: b.ID, To: a.ID}))
		require.NoError(t, g.AddEdge(Edge{From: c.ID, To: a.ID}))
		require.NoError(t, g.AddEdge(Edge{From: d.ID, To: b.ID}))
		require.NoError(t, g.AddEdge(Edge{From: d.ID, To: c.ID}))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("cycle reports the full path", func(t *testing.T) {
		g := New()
		x, _ := g.AddNode(ref.MustParse("x/1.0"), nil)
		a, _ := g.AddNode(ref.MustParse("a/1.0"), nil)
		b, _ := g.AddNode(ref.MustParse("b/1.0"), nil)
		require.NoError(t, g.AddEdge(Edge{From: x.ID, To: RootID}))
		require.NoError(t, g.AddEdge(Edge{From: a.ID, To: x.ID}))
		require.NoError(t, g.AddEdge(Edge{From: b.ID, To: a.ID}))
		require.NoError(t, g.AddEdge(Edge{From: a.ID, To: b.ID}))

		err := g.DetectCycles()
		var cycle *resolveerr.CycleError
		require.True(t, errors.As(err, &cycle))
		assert.Equal(t, []string{"a", "b", "a"}, cycle.Names())

		var gerr *resolveerr.GraphError
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, "x/1.0 -> a/1.0 -> b/1.0", resolveerr.JoinRefs(gerr.Stack, " -> "))
	})
}
