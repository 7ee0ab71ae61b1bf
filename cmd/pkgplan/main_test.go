package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pkgplan/internal/cli"
)

func TestRun_ShouldExit(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	err := run(context.Background(), &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
	assert.Equal(t, cli.ExitUsage, cli.Classify(err).Code)
}

func TestRun_Conflict(t *testing.T) {
	dir := t.TempDir()
	src := `
recipe "app" {
  version = "1.0"
  requires "zlib/1.2" {}
}
recipe "zlib" {
  version = "1.2"
}
recipe "zlib" {
  version = "1.3"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes.hcl"), []byte(src), 0o600))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"--recipes", dir, "app/1.0", "zlib/1.3"})
	require.Error(t, err)

	exitErr := cli.Classify(err)
	assert.Equal(t, cli.ExitConflict, exitErr.Code)
	assert.Contains(t, exitErr.Message, "zlib")
	assert.Contains(t, exitErr.Message, "zlib/1.2")
	assert.Contains(t, exitErr.Message, "zlib/1.3")
}

func TestRun_Plan(t *testing.T) {
	dir := t.TempDir()
	src := `
recipe "app" {
  version = "1.0"
  requires "zlib/[>=1.2]" {}
  lifecycle {
    build = "print"
  }
}
recipe "zlib" {
  version = "1.2"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes.hcl"), []byte(src), 0o600))
	lock := filepath.Join(dir, "pkgplan.lock")

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"--recipes", dir, "--lockfile", lock, "--build", "app/1.0"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "level 0: zlib/1.2:")
	assert.Contains(t, out.String(), "level 1: app/1.0:")
	_, statErr := os.Stat(lock)
	assert.False(t, errors.Is(statErr, os.ErrNotExist))
}
