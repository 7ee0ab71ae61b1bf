package packageid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/testutil"
)

func graphOf(t *testing.T, profile depgraph.Profile, recipes ...*recipe.Recipe) *depgraph.Graph {
	t.Helper()
	g, err := depgraph.NewBuilder(testutil.Provider(recipes...), nil, nil, profile).
		Build(context.Background(), []recipe.Requirement{testutil.Req("app/1.0")})
	require.NoError(t, err)
	return g
}

func idOf(t *testing.T, g *depgraph.Graph, name string) ID {
	t.Helper()
	ids, err := ComputeAll(g, nil)
	require.NoError(t, err)
	n, ok := g.Lookup(name)
	require.True(t, ok)
	return ids[n.ID]
}

func withSettings(r *recipe.Recipe, names ...string) *recipe.Recipe {
	r.Settings = names
	return r
}

func TestInput_Canonical(t *testing.T) {
	zlib := withSettings(testutil.Recipe("zlib/1.2#rev1"), "os", "build_type")
	zlib.Options = []recipe.Option{{Name: "shared", Values: []string{"True", "False"}, Default: "False"}}
	g := graphOf(t, depgraph.Profile{Settings: map[string]string{"os": "Linux"}},
		withSettings(testutil.Recipe("app/1.0",
			testutil.Req("zlib/1.2"), testutil.Req("ssl/1.0", "private"), testutil.Req("cmake/3.0", "build")), "os"),
		zlib,
		testutil.Recipe("ssl/1.0"),
		testutil.Recipe("cmake/3.0"),
	)
	ids, err := ComputeAll(g, nil)
	require.NoError(t, err)

	app, _ := g.Lookup("app")
	zlibNode, _ := g.Lookup("zlib")
	deps := Deps{zlibNode.ID: {Ref: zlibNode.Ref, ID: ids[zlibNode.ID]}}

	want := "[settings]\nos=Linux\n[options]\n[requires]\nzlib/1.2:" + string(ids[zlibNode.ID]) + "\n"
	assert.Equal(t, want, Input(app, deps), "private and build requirements are left out, revisions dropped")
	assert.Equal(t, "[settings]\nbuild_type=Release\nos=Linux\n[options]\nshared=False\n[requires]\n", Input(zlibNode, nil))
}

func TestCompute_Pure(t *testing.T) {
	newGraph := func() *depgraph.Graph {
		return graphOf(t, depgraph.Profile{Settings: map[string]string{"os": "Linux", "arch": "armv8"}},
			withSettings(testutil.Recipe("app/1.0", testutil.Req("lib/1.0")), "os", "arch"),
			withSettings(testutil.Recipe("lib/1.0", testutil.Req("zlib/1.2")), "os", "arch", "build_type"),
			withSettings(testutil.Recipe("zlib/1.2"), "os", "arch", "compiler"),
		)
	}
	g1, g2 := newGraph(), newGraph()
	for _, name := range []string{"app", "lib", "zlib"} {
		first := idOf(t, g1, name)
		assert.Equal(t, first, idOf(t, g1, name), "same graph, %s", name)
		assert.Equal(t, first, idOf(t, g2, name), "structurally identical graph, %s", name)
		assert.Len(t, string(first), 40)
	}
}

func TestCompute_Sensitivity(t *testing.T) {
	base := func(zlibVersion, privateVersion, toolVersion string, shared string) *depgraph.Graph {
		zlib := withSettings(testutil.Recipe("zlib/"+zlibVersion), "os")
		zlib.Options = []recipe.Option{{Name: "shared", Values: []string{"True", "False"}, Default: "False"}}
		return graphOf(t, depgraph.Profile{Options: map[string]string{"zlib:shared": shared}},
			testutil.Recipe("app/1.0", testutil.Req("lib/1.0")),
			testutil.Recipe("lib/1.0",
				testutil.Req("zlib/"+zlibVersion),
				testutil.Req("secret/"+privateVersion, "private"),
				testutil.Req("tool/"+toolVersion, "build")),
			zlib,
			testutil.Recipe("secret/"+privateVersion),
			testutil.Recipe("tool/"+toolVersion),
		)
	}
	baseID := idOf(t, base("1.2", "1.0", "1.0", "False"), "lib")

	assert.Equal(t, baseID, idOf(t, base("1.2", "2.0", "1.0", "False"), "lib"), "private dependency does not affect the consumer")
	assert.Equal(t, baseID, idOf(t, base("1.2", "1.0", "2.0", "False"), "lib"), "build requirement does not affect the consumer")
	assert.NotEqual(t, baseID, idOf(t, base("1.3", "1.0", "1.0", "False"), "lib"), "public dependency version does")
	assert.NotEqual(t, baseID, idOf(t, base("1.2", "1.0", "1.0", "True"), "lib"), "public dependency options do")

	appRef := idOf(t, base("1.2", "1.0", "1.0", "False"), "app")
	assert.NotEqual(t, appRef, idOf(t, base("1.2", "1.0", "1.0", "True"), "app"), "changes propagate transitively")
}

func TestCompute_CustomHash(t *testing.T) {
	g := graphOf(t, depgraph.Profile{}, testutil.Recipe("app/1.0"))
	app, _ := g.Lookup("app")
	id := Compute(app, nil, func(b []byte) string { return "len:" + string(rune('0'+len(b)%10)) })
	assert.Equal(t, ID("len:"+string(rune('0'+len(Input(app, nil))%10))), id)
}
