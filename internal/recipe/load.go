package recipe

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/hclutil"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot decodes all recipe blocks of a single file.
type fileRoot struct {
	Recipes []*recipeBlock `hcl:"recipe,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type recipeBlock struct {
	Name            string              `hcl:"name,label"`
	Version         string              `hcl:"version"`
	User            string              `hcl:"user,optional"`
	Channel         string              `hcl:"channel,optional"`
	Revision        string              `hcl:"revision,optional"`
	Settings        []string            `hcl:"settings,optional"`
	DefaultSettings cty.Value           `hcl:"default_settings,optional"`
	UserInfo        cty.Value           `hcl:"user_info,optional"`
	Options         []*optionBlock      `hcl:"option,block"`
	Requires        []*requirementBlock `hcl:"requires,block"`
	BuildRequires   []*requirementBlock `hcl:"build_requires,block"`
	Lifecycle       *lifecycleBlock     `hcl:"lifecycle,block"`
	CppInfo         *cppInfoBlock       `hcl:"cpp_info,block"`
}

type optionBlock struct {
	Name    string   `hcl:"name,label"`
	Values  []string `hcl:"values,optional"`
	Default string   `hcl:"default,optional"`
}

type requirementBlock struct {
	Ref      string `hcl:"ref,label"`
	Private  bool   `hcl:"private,optional"`
	Override bool   `hcl:"override,optional"`
}

type lifecycleBlock struct {
	Build       string `hcl:"build,optional"`
	Package     string `hcl:"package,optional"`
	PackageInfo string `hcl:"package_info,optional"`
}

type cppInfoBlock struct {
	IncludeDirs     []string          `hcl:"include_dirs,optional"`
	LibDirs         []string          `hcl:"lib_dirs,optional"`
	BinDirs         []string          `hcl:"bin_dirs,optional"`
	Libs            []string          `hcl:"libs,optional"`
	Defines         []string          `hcl:"defines,optional"`
	CFlags          []string          `hcl:"cflags,optional"`
	CXXFlags        []string          `hcl:"cxxflags,optional"`
	SharedLinkFlags []string          `hcl:"shared_link_flags,optional"`
	ExeLinkFlags    []string          `hcl:"exe_link_flags,optional"`
	Configs         []*cppConfigBlock `hcl:"config,block"`
}

// cppConfigBlock repeats the cpp_info fields for one build configuration.
type cppConfigBlock struct {
	Name            string   `hcl:"name,label"`
	IncludeDirs     []string `hcl:"include_dirs,optional"`
	LibDirs         []string `hcl:"lib_dirs,optional"`
	BinDirs         []string `hcl:"bin_dirs,optional"`
	Libs            []string `hcl:"libs,optional"`
	Defines         []string `hcl:"defines,optional"`
	CFlags          []string `hcl:"cflags,optional"`
	CXXFlags        []string `hcl:"cxxflags,optional"`
	SharedLinkFlags []string `hcl:"shared_link_flags,optional"`
	ExeLinkFlags    []string `hcl:"exe_link_flags,optional"`
}

// HCLProvider serves recipes loaded from .hcl files:
//
//	recipe "zlib" {
//	  version  = "1.2.11"
//	  user     = "conan"
//	  channel  = "stable"
//	  settings = ["os", "arch", "build_type"]
//
//	  option "shared" {
//	    values  = ["True", "False"]
//	    default = "False"
//	  }
//
//	  requires "openssl/[>=1.1 <2.0]" {}
//	  build_requires "cmake/3.20" {}
//
//	  lifecycle {
//	    build = "noop"
//	  }
//
//	  cpp_info {
//	    libs = ["z"]
//	    config "debug" {
//	      libs = ["zd"]
//	    }
//	  }
//	}
type HCLProvider struct {
	*MemoryProvider
}

// LoadHCL reads every recipe under paths.
func LoadHCL(ctx context.Context, paths ...string) (*HCLProvider, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := hclutil.FindFiles(paths...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered recipe files.", "count", len(files))

	p := &HCLProvider{MemoryProvider: NewMemoryProvider()}
	parser := hclparse.NewParser()
	for _, file := range files {
		var root fileRoot
		if err := hclutil.DecodeFile(parser, file, &root); err != nil {
			return nil, err
		}
		for _, block := range root.Recipes {
			rec, err := translateRecipe(block, file)
			if err != nil {
				return nil, err
			}
			p.Add(rec)
		}
	}

	logger.Info("Recipes loaded.", "recipes", p.Len(), "files", len(files))
	return p, nil
}

// ParseHCL decodes recipes from in-memory source.
func ParseHCL(src []byte, filename string) ([]*Recipe, error) {
	var root fileRoot
	if err := hclutil.DecodeSource(src, filename, &root); err != nil {
		return nil, err
	}
	out := make([]*Recipe, 0, len(root.Recipes))
	for _, block := range root.Recipes {
		rec, err := translateRecipe(block, filename)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func translateRecipe(b *recipeBlock, file string) (*Recipe, error) {
	text := b.Name + "/" + b.Version
	if b.User != "" {
		text += "@" + b.User
		if b.Channel != "" {
			text += "/" + b.Channel
		}
	}
	if b.Revision != "" {
		text += "#" + b.Revision
	}
	r, err := ref.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%s: recipe %q: %w", file, b.Name, err)
	}

	rec := &Recipe{Ref: r, Settings: b.Settings, Source: file}
	if rec.DefaultSettings, err = hclutil.StringMap(b.DefaultSettings); err != nil {
		return nil, fmt.Errorf("%s: recipe %s: default_settings: %w", file, r, err)
	}
	if rec.UserInfo, err = hclutil.StringMap(b.UserInfo); err != nil {
		return nil, fmt.Errorf("%s: recipe %s: user_info: %w", file, r, err)
	}
	for _, o := range b.Options {
		rec.Options = append(rec.Options, Option{Name: o.Name, Values: o.Values, Default: o.Default})
	}

	addReqs := func(blocks []*requirementBlock, build bool) error {
		for _, rb := range blocks {
			rr, err := ref.Parse(rb.Ref)
			if err != nil {
				return fmt.Errorf("%s: recipe %s: %w", file, r, err)
			}
			rec.Requires = append(rec.Requires, Requirement{
				Ref:          rr,
				Private:      rb.Private,
				Override:     rb.Override,
				BuildRequire: build,
			})
		}
		return nil
	}
	if err := addReqs(b.Requires, false); err != nil {
		return nil, err
	}
	if err := addReqs(b.BuildRequires, true); err != nil {
		return nil, err
	}

	if b.Lifecycle != nil {
		rec.Lifecycle = Lifecycle{
			Build:       b.Lifecycle.Build,
			Package:     b.Lifecycle.Package,
			PackageInfo: b.Lifecycle.PackageInfo,
		}
	}
	if b.CppInfo != nil {
		c := b.CppInfo
		rec.CppInfo = CppInfo{
			IncludeDirs: c.IncludeDirs, LibDirs: c.LibDirs, BinDirs: c.BinDirs,
			Libs: c.Libs, Defines: c.Defines, CFlags: c.CFlags, CXXFlags: c.CXXFlags,
			SharedLinkFlags: c.SharedLinkFlags, ExeLinkFlags: c.ExeLinkFlags,
		}
		for _, cfg := range b.CppInfo.Configs {
			if rec.CppInfo.Configs == nil {
				rec.CppInfo.Configs = make(map[string]*CppInfo)
			}
			rec.CppInfo.Configs[cfg.Name] = &CppInfo{
				IncludeDirs: cfg.IncludeDirs, LibDirs: cfg.LibDirs, BinDirs: cfg.BinDirs,
				Libs: cfg.Libs, Defines: cfg.Defines, CFlags: cfg.CFlags, CXXFlags: cfg.CXXFlags,
				SharedLinkFlags: cfg.SharedLinkFlags, ExeLinkFlags: cfg.ExeLinkFlags,
			}
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return rec, nil
}
