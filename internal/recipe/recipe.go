// Package recipe defines what a package declares about itself: its
// requirements, the settings and options it depends on, the build
// information it exports to consumers and the hooks that build it.
package recipe

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/settings"
)

// Requirement is a dependency declared by a recipe or by the root request.
type Requirement struct {
	Ref ref.Reference
	// Private dependencies are not re-exposed to consumers of the requirer.
	Private bool
	// Override forces the version of Ref's package for the whole graph
	// without adding a dependency edge of its own.
	Override bool
	// BuildRequire marks a tool needed at build time only.
	BuildRequire bool
}

func (r Requirement) String() string {
	var flags []string
	if r.Private {
		flags = append(flags, "private")
	}
	if r.Override {
		flags = append(flags, "override")
	}
	if r.BuildRequire {
		flags = append(flags, "build")
	}
	if len(flags) == 0 {
		return r.Ref.String()
	}
	return fmt.Sprintf("%s (%s)", r.Ref, strings.Join(flags, ", "))
}

// Lifecycle names registered hook implementations. Empty names are no-ops.
type Lifecycle struct {
	Build       string
	Package     string
	PackageInfo string
}

// CppInfo is the build information a package exports to its consumers.
// Configs holds per build configuration additions ("debug", "release").
type CppInfo struct {
	IncludeDirs     []string
	LibDirs         []string
	BinDirs         []string
	Libs            []string
	Defines         []string
	CFlags          []string
	CXXFlags        []string
	SharedLinkFlags []string
	ExeLinkFlags    []string
	Configs         map[string]*CppInfo
}

// Clone returns a deep copy.
func (c CppInfo) Clone() CppInfo {
	out := CppInfo{
		IncludeDirs:     slices.Clone(c.IncludeDirs),
		LibDirs:         slices.Clone(c.LibDirs),
		BinDirs:         slices.Clone(c.BinDirs),
		Libs:            slices.Clone(c.Libs),
		Defines:         slices.Clone(c.Defines),
		CFlags:          slices.Clone(c.CFlags),
		CXXFlags:        slices.Clone(c.CXXFlags),
		SharedLinkFlags: slices.Clone(c.SharedLinkFlags),
		ExeLinkFlags:    slices.Clone(c.ExeLinkFlags),
	}
	if len(c.Configs) > 0 {
		out.Configs = make(map[string]*CppInfo, len(c.Configs))
		for name, cfg := range c.Configs {
			if cfg == nil {
				continue
			}
			cp := cfg.Clone()
			out.Configs[name] = &cp
		}
	}
	return out
}

// ConfigNames returns the configuration variant names, sorted.
func (c CppInfo) ConfigNames() []string {
	return slices.Sorted(maps.Keys(c.Configs))
}

// Option declares a package option. An empty Default means the option has
// no explicit default and inherits from the requirer.
type Option struct {
	Name    string
	Values  []string
	Default string
}

// Recipe is the declaration of a single package version.
type Recipe struct {
	Ref ref.Reference
	// Requires is ordered as declared.
	Requires []Requirement
	// Settings lists the settings axes that affect this package's binary.
	Settings []string
	// DefaultSettings are values the recipe pins explicitly.
	DefaultSettings map[string]string
	Options         []Option
	Lifecycle       Lifecycle
	CppInfo         CppInfo
	UserInfo        map[string]string
	// Source is where the recipe was loaded from, if anywhere.
	Source string
}

// OptionSchema builds the schema the recipe's options are validated against.
func (r *Recipe) OptionSchema() (*settings.Schema, error) {
	defs := make([]settings.Definition, 0, len(r.Options))
	for _, o := range r.Options {
		defs = append(defs, settings.Definition{Name: o.Name, Values: o.Values, Default: o.Default})
	}
	s, err := settings.NewSchema(defs...)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: options: %w", r.Ref, err)
	}
	return s, nil
}

// Validate checks the recipe's own consistency.
func (r *Recipe) Validate() error {
	if r.Ref.IsZero() {
		return fmt.Errorf("recipe without reference")
	}
	if r.Ref.IsRange() {
		return fmt.Errorf("recipe %s: version must be exact", r.Ref)
	}
	for _, req := range r.Requires {
		if req.Ref.Name() == r.Ref.Name() {
			return fmt.Errorf("recipe %s: requires itself", r.Ref)
		}
		if req.Override && req.BuildRequire {
			return fmt.Errorf("recipe %s: build requirement %s cannot be an override", r.Ref, req.Ref)
		}
	}
	for k := range r.DefaultSettings {
		if !slices.Contains(r.Settings, k) {
			return fmt.Errorf("recipe %s: default for undeclared setting %q", r.Ref, k)
		}
	}
	_, err := r.OptionSchema()
	return err
}
