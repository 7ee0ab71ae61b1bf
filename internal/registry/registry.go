package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/vk/pkgplan/internal/buildinfo"
	"github.com/vk/pkgplan/internal/packageid"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
)

// Module is the interface that all hook modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// BuildContext is what a hook sees of the node being built.
type BuildContext struct {
	RunID     string
	Ref       ref.Reference
	PackageID packageid.ID
	Settings  map[string]string
	Options   map[string]string
	// Deps is the flattened build information of the node's dependencies.
	Deps *buildinfo.DepsCppInfo
	// Output receives human readable build output.
	Output io.Writer
	// Package collects the artifact payload written by the package hook.
	Package bytes.Buffer
	// UserInfo may be filled by the package_info hook.
	UserInfo map[string]string
}

// BuildFunc runs a package's build step.
type BuildFunc func(ctx context.Context, bc *BuildContext) error

// PackageFunc writes the package's artifact into bc.Package.
type PackageFunc func(ctx context.Context, bc *BuildContext) error

// PackageInfoFunc adjusts the CppInfo the package exports to consumers.
type PackageInfoFunc func(ctx context.Context, bc *BuildContext, info *recipe.CppInfo) error

// Registry holds the hook implementations of one application instance.
type Registry struct {
	build       map[string]BuildFunc
	pkg         map[string]PackageFunc
	packageInfo map[string]PackageInfoFunc
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		build:       make(map[string]BuildFunc),
		pkg:         make(map[string]PackageFunc),
		packageInfo: make(map[string]PackageInfoFunc),
	}
}

// NewWithModules creates a Registry populated by modules.
func NewWithModules(modules ...Module) *Registry {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterBuild registers a build hook. Registering a name twice panics.
func (r *Registry) RegisterBuild(name string, fn BuildFunc) {
	if _, exists := r.build[name]; exists {
		panic(fmt.Sprintf("build hook with name '%s' already registered", name))
	}
	slog.Debug("Registering build hook.", "name", name)
	r.build[name] = fn
}

// RegisterPackage registers a package hook. Registering a name twice panics.
func (r *Registry) RegisterPackage(name string, fn PackageFunc) {
	if _, exists := r.pkg[name]; exists {
		panic(fmt.Sprintf("package hook with name '%s' already registered", name))
	}
	slog.Debug("Registering package hook.", "name", name)
	r.pkg[name] = fn
}

// RegisterPackageInfo registers a package_info hook. Registering a name
// twice panics.
func (r *Registry) RegisterPackageInfo(name string, fn PackageInfoFunc) {
	if _, exists := r.packageInfo[name]; exists {
		panic(fmt.Sprintf("package_info hook with name '%s' already registered", name))
	}
	slog.Debug("Registering package_info hook.", "name", name)
	r.packageInfo[name] = fn
}

// Names lists registered hook names per lifecycle step, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"build":        slices.Sorted(maps.Keys(r.build)),
		"package":      slices.Sorted(maps.Keys(r.pkg)),
		"package_info": slices.Sorted(maps.Keys(r.packageInfo)),
	}
}
