package solver

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
)

// Resolution is the outcome of Solve: one reference per package name.
type Resolution struct {
	selected map[string]ref.Reference
	origins  map[string][]resolveerr.Origin
	order    []string

	// Overrides lists requirements replaced by overrides, in the order they
	// were applied.
	Overrides []resolveerr.Override
	// Passes is the number of passes needed to converge.
	Passes int
}

func (s *Solver) resolution(passes int) *Resolution {
	res := &Resolution{
		selected:  make(map[string]ref.Reference, len(s.entries)),
		origins:   make(map[string][]resolveerr.Origin, len(s.entries)),
		Overrides: slices.Clone(s.overrides),
		Passes:    passes,
	}
	for _, name := range s.order {
		e := s.entries[name]
		res.selected[name] = e.selected
		res.origins[name] = slices.Clone(e.origins)
		res.order = append(res.order, name)
	}
	return res
}

// Lookup returns the reference selected for a package name.
func (r *Resolution) Lookup(name string) (ref.Reference, bool) {
	sel, ok := r.selected[name]
	return sel, ok
}

// Names returns the resolved package names in the order they were first
// required.
func (r *Resolution) Names() []string {
	return slices.Clone(r.order)
}

// Map returns a copy of the name to reference mapping.
func (r *Resolution) Map() map[string]ref.Reference {
	return maps.Clone(r.selected)
}

// Origins returns every requirement origin recorded for a package.
func (r *Resolution) Origins(name string) []resolveerr.Origin {
	return slices.Clone(r.origins[name])
}

func (r *Resolution) Len() int { return len(r.order) }

// Resolve maps a declared requirement onto its selected reference.
func (r *Resolution) Resolve(req recipe.Requirement) (ref.Reference, error) {
	sel, ok := r.selected[req.Ref.Name()]
	if !ok {
		return ref.Reference{}, fmt.Errorf("solver: %s was not resolved", req.Ref)
	}
	return sel, nil
}
