package buildinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/testutil"
)

func withInfo(r *recipe.Recipe, name string) *recipe.Recipe {
	r.CppInfo = recipe.CppInfo{
		IncludeDirs: []string{name + "/include"},
		LibDirs:     []string{name + "/lib"},
		BinDirs:     []string{name + "/bin"},
		Libs:        []string{name},
		Defines:     []string{"HAVE_" + name},
		CXXFlags:    []string{"-f" + name},
	}
	return r
}

func graphOf(t *testing.T, recipes ...*recipe.Recipe) *depgraph.Graph {
	t.Helper()
	g, err := depgraph.NewBuilder(testutil.Provider(recipes...), nil, nil, depgraph.Profile{}).
		Build(context.Background(), []recipe.Requirement{testutil.Req("app/1.0")})
	require.NoError(t, err)
	return g
}

func flatten(t *testing.T, g *depgraph.Graph, name string) *DepsCppInfo {
	t.Helper()
	n, ok := g.Lookup(name)
	require.True(t, ok)
	info, err := Flatten(g, n.ID)
	require.NoError(t, err)
	return info
}

func TestFlatten_PrivateEdgeHiddenFromGrandparent(t *testing.T) {
	g := graphOf(t,
		withInfo(testutil.Recipe("app/1.0", testutil.Req("lib/1.0")), "app"),
		withInfo(testutil.Recipe("lib/1.0", testutil.Req("secret/1.0", "private"), testutil.Req("pub/1.0")), "lib"),
		withInfo(testutil.Recipe("secret/1.0"), "secret"),
		withInfo(testutil.Recipe("pub/1.0"), "pub"),
	)

	app := flatten(t, g, "app")
	assert.Equal(t, []string{"lib/include", "pub/include"}, app.IncludeDirs)
	assert.Equal(t, []string{"HAVE_lib", "HAVE_pub"}, app.Defines)
	assert.Equal(t, []string{"-flib", "-fpub"}, app.CXXFlags)
	assert.Equal(t, []string{"lib", "secret", "pub"}, app.Libs, "private dependency is still linked")
	assert.Equal(t, []string{"lib/lib", "secret/lib", "pub/lib"}, app.LibDirs)

	secret, ok := app.Dependency("secret")
	require.True(t, ok)
	assert.Equal(t, LinkOnly, secret.Visibility)
	assert.Empty(t, secret.CppInfo.IncludeDirs)

	lib := flatten(t, g, "lib")
	assert.Contains(t, lib.IncludeDirs, "secret/include", "the direct requirer sees everything")
	dep, _ := lib.Dependency("secret")
	assert.Equal(t, Full, dep.Visibility)
}

func TestFlatten_FullVisibilityWins(t *testing.T) {
	g := graphOf(t,
		testutil.Recipe("app/1.0", testutil.Req("lib/1.0"), testutil.Req("other/1.0")),
		testutil.Recipe("lib/1.0", testutil.Req("zlib/1.2", "private")),
		testutil.Recipe("other/1.0", testutil.Req("zlib/1.2")),
		withInfo(testutil.Recipe("zlib/1.2"), "zlib"),
	)
	app := flatten(t, g, "app")
	dep, ok := app.Dependency("zlib")
	require.True(t, ok)
	assert.Equal(t, Full, dep.Visibility)
	assert.Equal(t, []string{"zlib/include"}, app.IncludeDirs)
}

func TestFlatten_TransitiveThroughPrivateStaysLinkOnly(t *testing.T) {
	g := graphOf(t,
		testutil.Recipe("app/1.0", testutil.Req("lib/1.0")),
		testutil.Recipe("lib/1.0", testutil.Req("mid/1.0", "private")),
		withInfo(testutil.Recipe("mid/1.0", testutil.Req("deep/1.0")), "mid"),
		withInfo(testutil.Recipe("deep/1.0"), "deep"),
	)
	app := flatten(t, g, "app")
	assert.Empty(t, app.IncludeDirs)
	assert.Equal(t, []string{"mid", "deep"}, app.Libs)
}

func TestFlatten_BuildRequiresNotLinked(t *testing.T) {
	g := graphOf(t,
		testutil.Recipe("app/1.0", testutil.Req("cmake/3.0", "build"), testutil.Req("zlib/1.2")),
		withInfo(testutil.Recipe("cmake/3.0"), "cmake"),
		withInfo(testutil.Recipe("zlib/1.2"), "zlib"),
	)
	app := flatten(t, g, "app")
	assert.Equal(t, []string{"zlib"}, app.Libs)
	assert.Equal(t, []string{"cmake/bin"}, app.BuildBinDirs)
	_, ok := app.Dependency("cmake")
	assert.False(t, ok)
}

func TestFlatten_ConfigsAndUserInfo(t *testing.T) {
	zlib := withInfo(testutil.Recipe("zlib/1.2"), "zlib")
	zlib.CppInfo.Configs = map[string]*recipe.CppInfo{
		"debug":   {Libs: []string{"zlibd"}, Defines: []string{"ZLIB_DEBUG"}},
		"release": {Libs: []string{"zlib"}},
	}
	zlib.UserInfo = map[string]string{"VAR1": "2"}
	bz := testutil.Recipe("bzip2/1.0")
	bz.CppInfo.Configs = map[string]*recipe.CppInfo{"debug": {Libs: []string{"bz2d"}}}

	g := graphOf(t, testutil.Recipe("app/1.0", testutil.Req("zlib/1.2"), testutil.Req("bzip2/1.0")), zlib, bz)
	app := flatten(t, g, "app")

	require.Contains(t, app.Configs, "debug")
	assert.Equal(t, []string{"zlibd", "bz2d"}, app.Configs["debug"].Libs)
	assert.Equal(t, []string{"ZLIB_DEBUG"}, app.Configs["debug"].Defines)
	assert.Equal(t, []string{"zlib"}, app.Configs["release"].Libs)
	assert.Equal(t, map[string]map[string]string{"zlib": {"VAR1": "2"}}, app.UserInfo())
}

func TestFlatten_ReadOnly(t *testing.T) {
	g := graphOf(t, testutil.Recipe("app/1.0", testutil.Req("zlib/1.2")), withInfo(testutil.Recipe("zlib/1.2"), "zlib"))
	app := flatten(t, g, "app")
	app.Libs[0] = "mutated"
	dep, _ := app.Dependency("zlib")
	dep.CppInfo.IncludeDirs[0] = "mutated"

	zlib, _ := g.Lookup("zlib")
	assert.Equal(t, []string{"zlib"}, zlib.CppInfo.Libs)
	assert.Equal(t, []string{"zlib/include"}, zlib.CppInfo.IncludeDirs)
}

func TestFlatten_UnknownNode(t *testing.T) {
	_, err := Flatten(depgraph.New(), 42)
	assert.ErrorContains(t, err, "not found")
}
