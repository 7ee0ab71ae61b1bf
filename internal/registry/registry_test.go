package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
)

type recordingModule struct {
	calls *[]string
}

func (m recordingModule) Register(r *Registry) {
	r.RegisterBuild("compile", func(ctx context.Context, bc *BuildContext) error {
		*m.calls = append(*m.calls, "build "+bc.Ref.Name())
		return nil
	})
	r.RegisterPackage("tarball", func(ctx context.Context, bc *BuildContext) error {
		*m.calls = append(*m.calls, "package "+bc.Ref.Name())
		_, err := fmt.Fprint(&bc.Package, "payload")
		return err
	})
	r.RegisterPackageInfo("libs", func(ctx context.Context, bc *BuildContext, info *recipe.CppInfo) error {
		*m.calls = append(*m.calls, "package_info "+bc.Ref.Name())
		info.Libs = append(info.Libs, bc.Ref.Name())
		return nil
	})
}

func TestRegister_DuplicatePanics(t *testing.T) {
	var calls []string
	r := NewWithModules(recordingModule{calls: &calls})
	assert.Panics(t, func() { r.RegisterBuild("compile", nil) })
	assert.Panics(t, func() { r.RegisterPackage("tarball", nil) })
	assert.Panics(t, func() { r.RegisterPackageInfo("libs", nil) })
	assert.Equal(t, map[string][]string{
		"build":        {"compile"},
		"package":      {"tarball"},
		"package_info": {"libs"},
	}, r.Names())
}

func TestHooks_Dispatch(t *testing.T) {
	var calls []string
	r := NewWithModules(recordingModule{calls: &calls})

	h, err := r.Hooks(recipe.Lifecycle{Build: "compile", Package: "tarball", PackageInfo: "libs"})
	require.NoError(t, err)

	ctx := context.Background()
	bc := &BuildContext{Ref: ref.MustParse("zlib/1.2")}
	info := &recipe.CppInfo{}
	require.NoError(t, h.Build(ctx, bc))
	require.NoError(t, h.Package(ctx, bc))
	require.NoError(t, h.PackageInfo(ctx, bc, info))

	assert.Equal(t, []string{"build zlib", "package zlib", "package_info zlib"}, calls)
	assert.Equal(t, "payload", bc.Package.String())
	assert.Equal(t, []string{"zlib"}, info.Libs)
}

func TestHooks_EmptyLifecycleIsNoop(t *testing.T) {
	h, err := New().Hooks(recipe.Lifecycle{})
	require.NoError(t, err)
	bc := &BuildContext{}
	assert.NoError(t, h.Build(context.Background(), bc))
	assert.NoError(t, h.Package(context.Background(), bc))
	assert.NoError(t, h.PackageInfo(context.Background(), bc, &recipe.CppInfo{}))
	assert.Zero(t, bc.Package.Len())
}

func TestHooks_Unknown(t *testing.T) {
	_, err := New().Hooks(recipe.Lifecycle{Package: "missing"})
	assert.ErrorContains(t, err, `package hook "missing" is not registered`)
}

func TestValidate(t *testing.T) {
	var calls []string
	r := NewWithModules(recordingModule{calls: &calls})

	ok := &recipe.Recipe{Ref: ref.MustParse("a/1.0"), Lifecycle: recipe.Lifecycle{Build: "compile"}}
	plain := &recipe.Recipe{Ref: ref.MustParse("b/1.0")}
	bad := &recipe.Recipe{Ref: ref.MustParse("c/1.0"), Lifecycle: recipe.Lifecycle{PackageInfo: "nope"}}

	require.NoError(t, r.Validate(context.Background(), []*recipe.Recipe{ok, plain}))

	err := r.Validate(context.Background(), []*recipe.Recipe{ok, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry validation failed")
	assert.Contains(t, err.Error(), `recipe 'c/1.0': package_info hook "nope" is not registered`)
}
