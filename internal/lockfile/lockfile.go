// Package lockfile records a resolved graph so the same resolution can be
// reproduced later.
package lockfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/packageid"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
)

// Version is the lockfile format version written by this package.
const Version = 1

// Lockfile is the serialized form of a resolved graph.
type Lockfile struct {
	Version  int               `yaml:"version"`
	Settings map[string]string `yaml:"settings,omitempty"`
	Options  map[string]string `yaml:"options,omitempty"`
	// Requires are the root's edges.
	Requires []Requirement `yaml:"requires"`
	Packages []Package     `yaml:"packages"`
}

// Package is one locked node.
type Package struct {
	ID           int               `yaml:"id"`
	Ref          string            `yaml:"ref"`
	PackageID    string            `yaml:"package_id,omitempty"`
	BuildRequire bool              `yaml:"build_require,omitempty"`
	Settings     map[string]string `yaml:"settings,omitempty"`
	Options      map[string]string `yaml:"options,omitempty"`
	Requires     []Requirement     `yaml:"requires,omitempty"`
}

// Requirement is a locked edge to the package with ID Node.
type Requirement struct {
	Node         int  `yaml:"node"`
	Private      bool `yaml:"private,omitempty"`
	BuildRequire bool `yaml:"build,omitempty"`
}

// FromGraph captures g. ids may be nil when package IDs were not computed.
func FromGraph(g *depgraph.Graph, ids map[int]packageid.ID) *Lockfile {
	root := g.Root()
	l := &Lockfile{
		Version:  Version,
		Settings: values(root.Settings.Map()),
		Options:  values(root.Options.Map()),
		Requires: requirements(root.Deps),
	}
	for _, n := range g.Nodes() {
		if n.IsRoot() {
			continue
		}
		l.Packages = append(l.Packages, Package{
			ID:           n.ID,
			Ref:          n.Ref.String(),
			PackageID:    string(ids[n.ID]),
			BuildRequire: n.IsBuildRequire,
			Settings:     values(n.Settings.Map()),
			Options:      values(n.Options.Map()),
			Requires:     requirements(n.Deps),
		})
	}
	return l
}

// values and requirements return nil for empty input so a lockfile reads
// back equal to what was written.
func values(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func requirements(edges []depgraph.Edge) []Requirement {
	var out []Requirement
	for _, e := range edges {
		out = append(out, Requirement{Node: e.From, Private: e.Private, BuildRequire: e.BuildRequire})
	}
	return out
}

// Write encodes l as YAML.
func Write(w io.Writer, l *Lockfile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("lockfile: encode: %w", err)
	}
	return enc.Close()
}

// WriteFile writes l to path.
func WriteFile(path string, l *Lockfile) error {
	var buf bytes.Buffer
	if err := Write(&buf, l); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("lockfile: %w", err)
	}
	return nil
}

// Read decodes and validates a lockfile.
func Read(r io.Reader) (*Lockfile, error) {
	var l Lockfile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("lockfile: decode: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// ReadFile reads the lockfile at path.
func ReadFile(path string) (*Lockfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Validate checks the format version, references and edge targets.
func (l *Lockfile) Validate() error {
	if l.Version != Version {
		return fmt.Errorf("lockfile: unsupported version %d", l.Version)
	}
	known := map[int]bool{depgraph.RootID: true}
	names := make(map[string]bool)
	for _, p := range l.Packages {
		r, err := ref.Parse(p.Ref)
		if err != nil {
			return fmt.Errorf("lockfile: package %d: %w", p.ID, err)
		}
		if r.IsRange() {
			return fmt.Errorf("lockfile: package %d: %s is not an exact reference", p.ID, p.Ref)
		}
		if p.ID == depgraph.RootID || known[p.ID] {
			return fmt.Errorf("lockfile: package %d: duplicate or reserved id", p.ID)
		}
		if names[r.Name()] {
			return fmt.Errorf("lockfile: package %s locked twice", r.Name())
		}
		known[p.ID] = true
		names[r.Name()] = true
	}
	check := func(owner string, reqs []Requirement) error {
		for _, req := range reqs {
			if !known[req.Node] || req.Node == depgraph.RootID {
				return fmt.Errorf("lockfile: %s requires unknown package %d", owner, req.Node)
			}
		}
		return nil
	}
	if err := check("root", l.Requires); err != nil {
		return err
	}
	for _, p := range l.Packages {
		if err := check(p.Ref, p.Requires); err != nil {
			return err
		}
	}
	return nil
}

// Overrides returns one override requirement per locked package. Adding them
// to the root requirements pins every package to its locked reference.
func (l *Lockfile) Overrides() ([]recipe.Requirement, error) {
	out := make([]recipe.Requirement, 0, len(l.Packages))
	for _, p := range l.Packages {
		r, err := ref.Parse(p.Ref)
		if err != nil {
			return nil, fmt.Errorf("lockfile: %w", err)
		}
		out = append(out, recipe.Requirement{Ref: r, Override: true})
	}
	return out, nil
}

// Diff lists packages whose reference or package ID differ between l and
// other, sorted. An empty result means both lock the same binaries.
func (l *Lockfile) Diff(other *Lockfile) []string {
	index := func(lf *Lockfile) map[string]Package {
		m := make(map[string]Package, len(lf.Packages))
		for _, p := range lf.Packages {
			r, err := ref.Parse(p.Ref)
			name := p.Ref
			if err == nil {
				name = r.Name()
			}
			m[name] = p
		}
		return m
	}
	mine, theirs := index(l), index(other)

	var out []string
	for name, p := range mine {
		o, ok := theirs[name]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s: removed", name))
		case o.Ref != p.Ref:
			out = append(out, fmt.Sprintf("%s: %s -> %s", name, p.Ref, o.Ref))
		case o.PackageID != p.PackageID:
			out = append(out, fmt.Sprintf("%s: package id %s -> %s", name, p.PackageID, o.PackageID))
		}
	}
	for name, o := range theirs {
		if _, ok := mine[name]; !ok {
			out = append(out, fmt.Sprintf("%s: added %s", name, o.Ref))
		}
	}
	slices.Sort(out)
	return out
}
