package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pkgplan/internal/events"
	"github.com/vk/pkgplan/internal/lockfile"
	"github.com/vk/pkgplan/internal/resolveerr"
	"github.com/vk/pkgplan/internal/testutil"
)

const recipes = `
recipe "app" {
  version  = "1.0"
  settings = ["os", "build_type"]

  requires "net/1.0" {}
  build_requires "cmake/3.20" {}

  lifecycle {
    build   = "print"
    package = "manifest"
  }
}

recipe "net" {
  version = "1.0"

  option "shared" {
    values  = ["True", "False"]
    default = "False"
  }

  requires "zlib/[>=1.2 <2.0]" {
    private = true
  }

  lifecycle {
    build = "print"
  }

  cpp_info {
    libs = ["net"]
  }
}

recipe "zlib" {
  version = "1.2.11"
  cpp_info {
    libs = ["z"]
  }
}

recipe "zlib" {
  version = "1.3"
  cpp_info {
    libs = ["z"]
  }
}

recipe "cmake" {
  version = "3.20"
  cpp_info {
    bin_dirs = ["bin"]
  }
}
`

func writeRecipes(t *testing.T, extra map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{"recipes/main.hcl": recipes}
	for k, v := range extra {
		files[k] = v
	}
	testutil.WriteFiles(t, dir, files)
	return dir
}

func TestRun_PlanOnly(t *testing.T) {
	dir := writeRecipes(t, map[string]string{
		"profile.hcl": `settings = { os = "Linux", build_type = "Release" }` + "\n" + `options = { "net:shared" = true }`,
	})
	lockPath := filepath.Join(dir, "pkgplan.lock")

	a, logs := SetupAppTest(t, &Config{
		RecipePaths:  []string{filepath.Join(dir, "recipes")},
		Requires:     []string{"app/1.0"},
		ProfilePath:  filepath.Join(dir, "profile.hcl"),
		LockfilePath: lockPath,
	})
	out, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out.Result)

	zlib, ok := out.Graph.Lookup("zlib")
	require.True(t, ok)
	assert.Equal(t, "zlib/1.3", zlib.Ref.String())
	net, _ := out.Graph.Lookup("net")
	assert.Equal(t, map[string]string{"shared": "True"}, net.Options.Map())

	assert.Contains(t, logs.String(), "level 0: cmake/3.20:")
	assert.Contains(t, logs.String(), "(build)")

	locked, err := lockfile.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Len(t, locked.Packages, 4)
}

func TestRun_BuildWithSQLiteCache(t *testing.T) {
	dir := writeRecipes(t, nil)
	cfg := &Config{
		RecipePaths: []string{filepath.Join(dir, "recipes")},
		Requires:    []string{"app/1.0"},
		Build:       true,
		CacheDir:    filepath.Join(dir, "cache"),
		Workers:     2,
	}

	a, logs := SetupAppTest(t, cfg)
	out, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 4, out.Result.Count(events.Built))
	assert.Contains(t, logs.String(), "requires:")
	assert.Contains(t, logs.String(), `msg="Cached binaries." ref=zlib/1.3 count=1`)

	app, _ := out.Graph.Lookup("app")
	assert.Contains(t, string(out.Result.Artifacts[app.ID].Data), "app/1.0")

	again, _ := SetupAppTest(t, cfg)
	out, err = again.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, out.Result.Count(events.Reused), "the cache survives across runs")
}

func TestRun_LockedResolution(t *testing.T) {
	dir := writeRecipes(t, nil)
	lockPath := filepath.Join(dir, "pkgplan.lock")
	base := Config{
		RecipePaths: []string{filepath.Join(dir, "recipes")},
		Requires:    []string{"app/1.0"},
	}

	first := base
	first.LockfilePath = lockPath
	a, _ := SetupAppTest(t, &first)
	_, err := a.Run(context.Background())
	require.NoError(t, err)

	testutil.WriteFiles(t, dir, map[string]string{
		"recipes/newer.hcl": "recipe \"zlib\" {\n  version = \"1.4\"\n}\n",
	})

	locked := base
	locked.LockedPath = lockPath
	a, logs := SetupAppTest(t, &locked)
	out, err := a.Run(context.Background())
	require.NoError(t, err)
	zlib, _ := out.Graph.Lookup("zlib")
	assert.Equal(t, "zlib/1.3", zlib.Ref.String())
	assert.NotContains(t, logs.String(), "Resolution differs from lockfile.")

	testutil.WriteFiles(t, dir, map[string]string{
		"profile.hcl": `options = { "net:shared" = true }`,
	})
	drifted := locked
	drifted.ProfilePath = filepath.Join(dir, "profile.hcl")
	a, logs = SetupAppTest(t, &drifted)
	_, err = a.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Resolution differs from lockfile.")
	assert.Contains(t, logs.String(), "net: package id")

	a, _ = SetupAppTest(t, &base)
	out, err = a.Run(context.Background())
	require.NoError(t, err)
	zlib, _ = out.Graph.Lookup("zlib")
	assert.Equal(t, "zlib/1.4", zlib.Ref.String())
}

func TestRun_Errors(t *testing.T) {
	t.Run("conflict", func(t *testing.T) {
		dir := writeRecipes(t, map[string]string{
			"recipes/zlib2.hcl": "recipe \"zlib\" {\n  version = \"2.0\"\n}\n",
		})
		a, _ := SetupAppTest(t, &Config{
			RecipePaths: []string{filepath.Join(dir, "recipes")},
			Requires:    []string{"app/1.0", "zlib/2.0"},
		})
		_, err := a.Run(context.Background())
		var conflict *resolveerr.ConflictError
		assert.True(t, errors.As(err, &conflict), "got %v", err)
		assert.Equal(t, 1.0, promtestutil.ToFloat64(a.Metrics().ConflictsTotal))
	})

	t.Run("unregistered hook", func(t *testing.T) {
		dir := writeRecipes(t, map[string]string{
			"recipes/broken.hcl": "recipe \"broken\" {\n  version = \"1.0\"\n  lifecycle {\n    build = \"nope\"\n  }\n}\n",
		})
		a, _ := SetupAppTest(t, &Config{
			RecipePaths: []string{filepath.Join(dir, "recipes")},
			Requires:    []string{"app/1.0"},
		})
		_, err := a.Run(context.Background())
		assert.ErrorContains(t, err, "registry validation failed")
	})

	t.Run("malformed requirement", func(t *testing.T) {
		dir := writeRecipes(t, nil)
		a, _ := SetupAppTest(t, &Config{
			RecipePaths: []string{filepath.Join(dir, "recipes")},
			Requires:    []string{"app"},
		})
		_, err := a.Run(context.Background())
		var malformed *resolveerr.MalformedReferenceError
		assert.True(t, errors.As(err, &malformed), "got %v", err)
	})
}

func TestHealthcheckServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	a, _ := SetupAppTest(t, &Config{RecipePaths: []string{"."}, Requires: []string{"x/1.0"}})
	require.NoError(t, a.startHealthcheckServer(port))
	t.Cleanup(func() { a.closeHealthcheckServer(context.Background()) })
	a.metrics.ObserveGraph(5, 2)

	get := func(path string) string {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}
	assert.Equal(t, "OK\n", get("/health"))
	assert.Contains(t, get("/metrics"), "pkgplan_graph_nodes 5")
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{Requires: []string{"a/1.0"}})
	assert.ErrorContains(t, err, "recipe path")
	_, err = NewConfig(Config{RecipePaths: []string{"."}})
	assert.ErrorContains(t, err, "requirement")
	_, err = NewConfig(Config{RecipePaths: []string{"."}, Requires: []string{"a/1.0"}, Workers: -1})
	assert.Error(t, err)

	cfg, err := NewConfig(Config{RecipePaths: []string{"."}, Requires: []string{"a/1.0"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1.0"}, cfg.Requires)
}
