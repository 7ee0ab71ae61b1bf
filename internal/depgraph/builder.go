package depgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
	"github.com/vk/pkgplan/internal/settings"
	"github.com/vk/pkgplan/internal/solver"
)

// Profile holds the user's requested settings and options for one run.
// Option keys are either "pkg:option", scoped to one package, or a bare
// option name applied to every package declaring it without a default.
type Profile struct {
	Settings map[string]string
	Options  map[string]string
}

func (p Profile) scopedOption(pkg, opt string) (string, bool) {
	v, ok := p.Options[pkg+":"+opt]
	return v, ok
}

func (p Profile) scopedOptionNames(pkg string) []string {
	var out []string
	prefix := pkg + ":"
	for k := range p.Options {
		if name, ok := strings.CutPrefix(k, prefix); ok {
			out = append(out, name)
		}
	}
	return out
}

// Builder turns root requirements into a Graph.
type Builder struct {
	provider recipe.Provider
	solver   *solver.Solver
	schema   *settings.Schema
	profile  Profile
}

// NewBuilder returns a Builder. A nil schema selects settings.DefaultSchema.
func NewBuilder(provider recipe.Provider, s *solver.Solver, schema *settings.Schema, profile Profile) *Builder {
	if schema == nil {
		schema = settings.DefaultSchema()
	}
	if s == nil {
		s = solver.New(provider)
	}
	return &Builder{provider: provider, solver: s, schema: schema, profile: profile}
}

type built struct {
	graph *Graph
	res   *solver.Resolution
}

// Build solves roots, creates one node per selected package breadth-first,
// propagates settings and options from requirers to their dependencies and
// rejects cycles.
func (b *Builder) Build(ctx context.Context, roots []recipe.Requirement) (*Graph, error) {
	out, err := b.build(ctx, roots)
	if err != nil {
		return nil, err
	}
	return out.graph, nil
}

// BuildWithResolution is Build that also returns the solver outcome, which
// carries the applied overrides.
func (b *Builder) BuildWithResolution(ctx context.Context, roots []recipe.Requirement) (*Graph, *solver.Resolution, error) {
	out, err := b.build(ctx, roots)
	if err != nil {
		return nil, nil, err
	}
	return out.graph, out.res, nil
}

func (b *Builder) build(ctx context.Context, roots []recipe.Requirement) (*built, error) {
	logger := ctxlog.FromContext(ctx)

	res, err := b.solver.Solve(ctx, roots)
	if err != nil {
		return nil, err
	}

	g := New()
	root := g.Root()
	if root.Settings, err = b.rootSettings(); err != nil {
		return nil, err
	}
	if root.Options, err = b.rootOptions(); err != nil {
		return nil, err
	}

	type item struct {
		node  *Node
		reqs  []recipe.Requirement
		stack []*Node
	}
	queue := []item{{node: root, reqs: roots}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, req := range cur.reqs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if req.Override {
				continue
			}
			sel, err := res.Resolve(req)
			if err != nil {
				return nil, err
			}

			child, ok := g.Lookup(sel.Name())
			if !ok {
				rec, err := b.provider.Recipe(ctx, sel)
				if err != nil {
					nf := &resolveerr.RecipeNotFoundError{Ref: sel, Err: err}
					nf.Origin = resolveerr.Origin{Requested: req.Ref, Chain: refsOf(cur.stack)}
					return nil, wrapStack(cur.stack, nf)
				}
				child, _ = g.AddNode(sel, rec)
				if err := b.propagate(cur.node, child); err != nil {
					return nil, wrapStack(append(cur.stack, child), err)
				}
				logger.Debug("Added graph node.", "id", child.ID, "ref", child.Ref.String(), "requirer", cur.node.String())

				stack := append(cur.stack[:len(cur.stack):len(cur.stack)], child)
				queue = append(queue, item{node: child, reqs: rec.Requires, stack: stack})
			}

			if child.ID == cur.node.ID {
				return nil, wrapStack(cur.stack, &resolveerr.CycleError{Path: []ref.Reference{child.Ref, child.Ref}})
			}
			edge := Edge{From: child.ID, To: cur.node.ID, Private: req.Private, BuildRequire: req.BuildRequire}
			if err := g.AddEdge(edge); err != nil {
				return nil, fmt.Errorf("depgraph: %s -> %s: %w", cur.node, child, err)
			}
		}
	}

	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	markBuildRequires(g)

	logger.Info("Dependency graph built.", "nodes", g.Len()-1)
	return &built{graph: g, res: res}, nil
}

func wrapStack(stack []*Node, err error) error {
	refs := refsOf(stack)
	if len(refs) == 0 {
		return err
	}
	return &resolveerr.GraphError{Stack: refs, Err: err}
}

func (b *Builder) rootSettings() (*settings.Values, error) {
	vals := settings.NewValues(b.schema)
	for k, v := range b.profile.Settings {
		if err := vals.Set(k, v); err != nil {
			return nil, fmt.Errorf("profile settings: %w", err)
		}
	}
	return vals, nil
}

// rootOptions accepts every unscoped profile option; the root has no recipe
// to declare them.
func (b *Builder) rootOptions() (*settings.Values, error) {
	var defs []settings.Definition
	for k := range b.profile.Options {
		if !strings.Contains(k, ":") {
			defs = append(defs, settings.Definition{Name: k})
		}
	}
	schema, err := settings.NewSchema(defs...)
	if err != nil {
		return nil, fmt.Errorf("profile options: %w", err)
	}
	vals := settings.NewValues(schema)
	for _, d := range defs {
		if err := vals.Set(d.Name, b.profile.Options[d.Name]); err != nil {
			return nil, fmt.Errorf("profile options: %w", err)
		}
	}
	return vals, nil
}

// propagate computes the child's effective settings and options. Only the
// first requirer in breadth-first order contributes inherited values.
//
// Settings, for each axis the recipe declares: recipe default, requirer's
// effective value, profile value, schema default.
//
// Options, for each option the recipe declares: scoped profile value,
// recipe default, requirer's effective value for the same name, unscoped
// profile value.
func (b *Builder) propagate(parent, child *Node) error {
	rec := child.Recipe

	child.Settings = settings.NewValues(b.schema)
	for _, name := range rec.Settings {
		def, ok := b.schema.Lookup(name)
		if !ok {
			return fmt.Errorf("recipe %s: setting %q: %w", rec.Ref, name, settings.ErrUnknownKey)
		}
		value, ok := rec.DefaultSettings[name]
		if !ok {
			value = parent.Settings.Value(name)
		}
		if value == "" {
			value = b.profile.Settings[name]
		}
		if value == "" {
			value = def.Default
		}
		if value == "" {
			continue
		}
		if err := child.Settings.Set(name, value); err != nil {
			return fmt.Errorf("recipe %s: settings: %w", rec.Ref, err)
		}
	}

	optSchema, err := rec.OptionSchema()
	if err != nil {
		return err
	}
	child.Options = settings.NewValues(optSchema)
	for _, opt := range rec.Options {
		value, scoped := b.profile.scopedOption(rec.Ref.Name(), opt.Name)
		if !scoped {
			value = opt.Default
		}
		if value == "" {
			if inherited := parent.Options.Value(opt.Name); inherited != "" && optSchema.Validate(opt.Name, inherited) == nil {
				value = inherited
			}
		}
		if value == "" {
			if global := b.profile.Options[opt.Name]; global != "" && optSchema.Validate(opt.Name, global) == nil {
				value = global
			}
		}
		if value == "" {
			continue
		}
		if err := child.Options.Set(opt.Name, value); err != nil {
			return fmt.Errorf("recipe %s: options: %w", rec.Ref, err)
		}
	}

	for _, name := range b.profile.scopedOptionNames(rec.Ref.Name()) {
		if _, ok := optSchema.Lookup(name); !ok {
			return fmt.Errorf("profile option %s:%s: %w", rec.Ref.Name(), name, settings.ErrUnknownKey)
		}
	}
	return nil
}

// markBuildRequires flags every node not reachable from the root through
// host (non build-require) edges.
func markBuildRequires(g *Graph) {
	host := map[int]bool{RootID: true}
	queue := []*Node{g.Root()}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range n.Deps {
			if e.BuildRequire || host[e.From] {
				continue
			}
			host[e.From] = true
			dep, _ := g.Node(e.From)
			queue = append(queue, dep)
		}
	}
	for _, n := range g.Nodes() {
		n.IsBuildRequire = !host[n.ID]
	}
}
