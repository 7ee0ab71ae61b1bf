package lockfile

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/packageid"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/testutil"
)

func resolve(t *testing.T, p recipe.Provider, roots ...recipe.Requirement) (*depgraph.Graph, map[int]packageid.ID) {
	t.Helper()
	profile := depgraph.Profile{Settings: map[string]string{"os": "Linux"}}
	g, err := depgraph.NewBuilder(p, nil, nil, profile).Build(context.Background(), roots)
	require.NoError(t, err)
	ids, err := packageid.ComputeAll(g, packageid.SHA1)
	require.NoError(t, err)
	return g, ids
}

func provider() *recipe.MemoryProvider {
	app := testutil.Recipe("app/1.0", testutil.Req("zlib/[>=1.0 <2.0]"), testutil.Req("cmake/3.0", "build"))
	app.Settings = []string{"os"}
	return testutil.Provider(
		app,
		testutil.Recipe("zlib/1.2"),
		testutil.Recipe("zlib/1.3"),
		testutil.Recipe("cmake/3.0"),
	)
}

func TestFromGraph(t *testing.T) {
	g, ids := resolve(t, provider(), testutil.Req("app/1.0"))
	l := FromGraph(g, ids)

	assert.Equal(t, Version, l.Version)
	assert.Equal(t, map[string]string{"os": "Linux"}, l.Settings)
	assert.Equal(t, []Requirement{{Node: 1}}, l.Requires)
	require.Len(t, l.Packages, 3)

	app := l.Packages[0]
	assert.Equal(t, "app/1.0", app.Ref)
	assert.Equal(t, map[string]string{"os": "Linux"}, app.Settings)
	assert.Equal(t, []Requirement{{Node: 2}, {Node: 3, BuildRequire: true}}, app.Requires)
	assert.Equal(t, "zlib/1.3", l.Packages[1].Ref, "ranges resolve to the highest version")
	assert.True(t, l.Packages[2].BuildRequire)
	assert.Len(t, app.PackageID, 40)
}

func TestWriteRead(t *testing.T) {
	g, ids := resolve(t, provider(), testutil.Req("app/1.0"))
	l := FromGraph(g, ids)

	path := filepath.Join(t.TempDir(), "pkgplan.lock")
	require.NoError(t, WriteFile(path, l))
	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, l.Packages, back.Packages)
	assert.Equal(t, l.Requires, back.Requires)
	assert.Empty(t, l.Diff(back))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, l))
	assert.Contains(t, buf.String(), "ref: zlib/1.3")
	assert.Contains(t, buf.String(), "build: true")
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"version", "version: 9\nrequires: []\npackages: []\n", "unsupported version 9"},
		{"bad ref", "version: 1\nrequires: []\npackages:\n  - id: 1\n    ref: 'zlib'\n", "package 1"},
		{"range", "version: 1\nrequires: []\npackages:\n  - id: 1\n    ref: 'zlib/[>1.0]'\n", "not an exact reference"},
		{"unknown node", "version: 1\nrequires:\n  - node: 4\npackages: []\n", "root requires unknown package 4"},
		{"duplicate name", "version: 1\nrequires: []\npackages:\n  - id: 1\n    ref: zlib/1.2\n  - id: 2\n    ref: zlib/1.3\n", "locked twice"},
		{"unknown field", "version: 1\nextra: true\n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestOverrides_ReproduceResolution(t *testing.T) {
	p := provider()
	g, ids := resolve(t, p, testutil.Req("app/1.0"))
	locked := FromGraph(g, ids)

	// A newer zlib appears; without the lock the range picks it up.
	p.Add(testutil.Recipe("zlib/1.4"))
	g2, ids2 := resolve(t, p, testutil.Req("app/1.0"))
	diff := locked.Diff(FromGraph(g2, ids2))
	require.Len(t, diff, 2)
	assert.Contains(t, diff[0], "app: package id ")
	assert.Equal(t, "zlib: zlib/1.3 -> zlib/1.4", diff[1])

	overrides, err := locked.Overrides()
	require.NoError(t, err)
	require.Len(t, overrides, 3)
	assert.True(t, overrides[0].Override)

	roots := append([]recipe.Requirement{testutil.Req("app/1.0")}, overrides...)
	g3, ids3 := resolve(t, p, roots...)
	assert.Empty(t, locked.Diff(FromGraph(g3, ids3)))
}
