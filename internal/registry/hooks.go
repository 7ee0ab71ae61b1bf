package registry

import (
	"context"
	"fmt"

	"github.com/vk/pkgplan/internal/recipe"
)

// Hooks is the capability a package variant exposes to the executor.
type Hooks interface {
	Build(ctx context.Context, bc *BuildContext) error
	Package(ctx context.Context, bc *BuildContext) error
	PackageInfo(ctx context.Context, bc *BuildContext, info *recipe.CppInfo) error
}

type hooks struct {
	build       BuildFunc
	pkg         PackageFunc
	packageInfo PackageInfoFunc
}

func (h hooks) Build(ctx context.Context, bc *BuildContext) error {
	if h.build == nil {
		return nil
	}
	return h.build(ctx, bc)
}

func (h hooks) Package(ctx context.Context, bc *BuildContext) error {
	if h.pkg == nil {
		return nil
	}
	return h.pkg(ctx, bc)
}

func (h hooks) PackageInfo(ctx context.Context, bc *BuildContext, info *recipe.CppInfo) error {
	if h.packageInfo == nil {
		return nil
	}
	return h.packageInfo(ctx, bc, info)
}

// Hooks resolves a recipe lifecycle. Empty names resolve to no-ops.
func (r *Registry) Hooks(lc recipe.Lifecycle) (Hooks, error) {
	var h hooks
	var ok bool
	if lc.Build != "" {
		if h.build, ok = r.build[lc.Build]; !ok {
			return nil, fmt.Errorf("build hook %q is not registered", lc.Build)
		}
	}
	if lc.Package != "" {
		if h.pkg, ok = r.pkg[lc.Package]; !ok {
			return nil, fmt.Errorf("package hook %q is not registered", lc.Package)
		}
	}
	if lc.PackageInfo != "" {
		if h.packageInfo, ok = r.packageInfo[lc.PackageInfo]; !ok {
			return nil, fmt.Errorf("package_info hook %q is not registered", lc.PackageInfo)
		}
	}
	return h, nil
}
