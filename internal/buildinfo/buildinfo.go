// Package buildinfo flattens the build information a node's dependencies
// export into the read-only record consumed by build-system generators.
package buildinfo

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vk/pkgplan/internal/buildorder"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/recipe"
)

// Visibility is how much of a dependency's CppInfo a consumer sees.
type Visibility int

const (
	// Full exposes every field.
	Full Visibility = iota + 1
	// LinkOnly exposes libraries and library directories, for dependencies
	// hidden behind a private edge.
	LinkOnly
)

func (v Visibility) String() string {
	switch v {
	case Full:
		return "full"
	case LinkOnly:
		return "link-only"
	}
	return "none"
}

// Dependency is one flattened dependency.
type Dependency struct {
	Name       string
	Ref        string
	Visibility Visibility
	CppInfo    recipe.CppInfo
	UserInfo   map[string]string
}

// DepsCppInfo aggregates the CppInfo of every dependency visible to one
// node. Dependencies are ordered consumers first, so Libs can be passed to a
// linker as is.
type DepsCppInfo struct {
	recipe.CppInfo
	Dependencies []Dependency
	// BuildBinDirs are the binary directories of direct build requirements.
	BuildBinDirs []string
}

// Dependency returns the flattened entry for a package name.
func (d *DepsCppInfo) Dependency(name string) (Dependency, bool) {
	for _, dep := range d.Dependencies {
		if dep.Name == name {
			return dep, true
		}
	}
	return Dependency{}, false
}

// UserInfo returns the user_info of every visible dependency by package name.
func (d *DepsCppInfo) UserInfo() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, dep := range d.Dependencies {
		if len(dep.UserInfo) > 0 {
			out[dep.Name] = maps.Clone(dep.UserInfo)
		}
	}
	return out
}

// Flatten computes what node nodeID sees of its dependencies.
//
// Direct dependencies are fully visible. A dependency reached through a
// public edge keeps the visibility of its requirer; one reached through a
// private edge is link-only. When a dependency is reached both ways, full
// visibility wins. Build requirements are never linked; only their binary
// directories are reported.
func Flatten(g *depgraph.Graph, nodeID int) (*DepsCppInfo, error) {
	start, ok := g.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("buildinfo: node %d not found", nodeID)
	}
	levels, err := buildorder.Order(g)
	if err != nil {
		return nil, err
	}
	pos := buildorder.Positions(levels)

	out := &DepsCppInfo{}
	vis := make(map[int]Visibility)
	var queue []int

	for _, e := range start.Deps {
		if e.BuildRequire {
			if dep, ok := g.Node(e.From); ok && dep.CppInfo != nil {
				out.BuildBinDirs = appendUnique(out.BuildBinDirs, dep.CppInfo.BinDirs...)
			}
			continue
		}
		if vis[e.From] != Full {
			vis[e.From] = Full
			queue = append(queue, e.From)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, _ := g.Node(id)
		for _, e := range n.Deps {
			if e.BuildRequire || e.From == nodeID {
				continue
			}
			v := vis[id]
			if e.Private {
				v = LinkOnly
			}
			if cur, seen := vis[e.From]; seen && (cur == Full || cur == v) {
				continue
			}
			vis[e.From] = v
			queue = append(queue, e.From)
		}
	}

	ids := slices.Collect(maps.Keys(vis))
	slices.SortFunc(ids, func(a, b int) int {
		if pos[a] != pos[b] {
			return pos[b] - pos[a]
		}
		return a - b
	})

	for _, id := range ids {
		n, _ := g.Node(id)
		info := visible(n.CppInfo, vis[id])
		out.Dependencies = append(out.Dependencies, Dependency{
			Name:       n.Name(),
			Ref:        n.Ref.String(),
			Visibility: vis[id],
			CppInfo:    info,
			UserInfo:   maps.Clone(n.UserInfo),
		})
		merge(&out.CppInfo, info)
	}
	return out, nil
}

func visible(info *recipe.CppInfo, v Visibility) recipe.CppInfo {
	if info == nil {
		return recipe.CppInfo{}
	}
	if v == Full {
		return info.Clone()
	}
	out := recipe.CppInfo{
		LibDirs: slices.Clone(info.LibDirs),
		Libs:    slices.Clone(info.Libs),
	}
	for name, cfg := range info.Configs {
		if cfg == nil {
			continue
		}
		if out.Configs == nil {
			out.Configs = make(map[string]*recipe.CppInfo)
		}
		out.Configs[name] = &recipe.CppInfo{LibDirs: slices.Clone(cfg.LibDirs), Libs: slices.Clone(cfg.Libs)}
	}
	return out
}

func merge(dst *recipe.CppInfo, src recipe.CppInfo) {
	dst.IncludeDirs = appendUnique(dst.IncludeDirs, src.IncludeDirs...)
	dst.LibDirs = appendUnique(dst.LibDirs, src.LibDirs...)
	dst.BinDirs = appendUnique(dst.BinDirs, src.BinDirs...)
	dst.Libs = appendUnique(dst.Libs, src.Libs...)
	dst.Defines = appendUnique(dst.Defines, src.Defines...)
	dst.CFlags = appendUnique(dst.CFlags, src.CFlags...)
	dst.CXXFlags = appendUnique(dst.CXXFlags, src.CXXFlags...)
	dst.SharedLinkFlags = appendUnique(dst.SharedLinkFlags, src.SharedLinkFlags...)
	dst.ExeLinkFlags = appendUnique(dst.ExeLinkFlags, src.ExeLinkFlags...)

	for _, name := range src.ConfigNames() {
		if dst.Configs == nil {
			dst.Configs = make(map[string]*recipe.CppInfo)
		}
		if dst.Configs[name] == nil {
			dst.Configs[name] = &recipe.CppInfo{}
		}
		merge(dst.Configs[name], *src.Configs[name])
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
