// Package solver selects exactly one concrete reference per package name
// for a set of root requirements.
//
// Requirements are processed breadth-first from the roots. Recipes of
// selected references are expanded as they are reached, so transitive
// requirements feed back into the same selection state. When a selection
// changes after its recipe was already expanded, the pass restarts with the
// new selection as a hint; passes are bounded.
//
// Selection rules for a package that already has a selection:
//   - an override requirement replaces it, and later non-override
//     requirements for that name are recorded but ignored; the first
//     override seen wins over competing overrides;
//   - an exact requirement for the selected version is a no-op, and may pin
//     the revision if none was selected;
//   - an exact requirement for another version is accepted only when the
//     selection came from ranges alone and the new version satisfies every
//     range seen so far;
//   - a range requirement keeps the selection when it is satisfied and
//     otherwise reselects the highest available version that satisfies all
//     ranges;
//   - anything else is a ConflictError naming every origin.
package solver

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
	"github.com/vk/pkgplan/internal/version"
)

const defaultMaxPasses = 10

var errRestart = errors.New("selection changed after expansion")

// Option configures a Solver.
type Option func(*Solver)

// WithMaxPasses bounds the number of restarts.
func WithMaxPasses(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.maxPasses = n
		}
	}
}

// Solver holds the selection state of one resolution run. It is not safe for
// concurrent use.
type Solver struct {
	provider  recipe.Provider
	maxPasses int

	// Kept across passes.
	forced map[string]forcedRef
	hints  map[string]ref.Reference

	// Reset on every pass.
	entries   map[string]*entry
	order     []string
	expanded  map[string]ref.Reference
	overrides []resolveerr.Override
	changed   string
}

type forcedRef struct {
	ref    ref.Reference
	origin resolveerr.Origin
}

type rangeReq struct {
	rng    version.Range
	origin resolveerr.Origin
}

type entry struct {
	name       string
	selected   ref.Reference
	pinned     bool
	overridden bool
	ranges     []rangeReq
	origins    []resolveerr.Origin
}

type queued struct {
	name  string
	ref   ref.Reference
	chain []ref.Reference
}

// New returns a solver that discovers transitive requirements and available
// versions through provider.
func New(provider recipe.Provider, opts ...Option) *Solver {
	s := &Solver{provider: provider, maxPasses: defaultMaxPasses}
	for _, opt := range opts {
		opt(s)
	}
	s.forced = make(map[string]forcedRef)
	s.hints = make(map[string]ref.Reference)
	s.resetPass()
	return s
}

func (s *Solver) resetPass() {
	s.entries = make(map[string]*entry)
	s.order = nil
	s.expanded = make(map[string]ref.Reference)
	s.overrides = nil
	s.changed = ""
}

// Solve resolves roots and everything they transitively require.
// Conflicts found below the root are wrapped in a GraphError carrying the
// expansion stack.
func (s *Solver) Solve(ctx context.Context, roots []recipe.Requirement) (*Resolution, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Solving requirements.", "roots", len(roots))

	s.forced = make(map[string]forcedRef)
	s.hints = make(map[string]ref.Reference)

	for pass := 1; pass <= s.maxPasses; pass++ {
		s.resetPass()
		err := s.runPass(ctx, roots)
		if err == nil {
			res := s.resolution(pass)
			logger.Info("Requirements solved.", "packages", len(res.order), "passes", pass, "overrides", len(res.Overrides))
			return res, nil
		}
		if !errors.Is(err, errRestart) {
			return nil, err
		}
		logger.Debug("Selection changed after expansion, restarting.", "package", s.changed, "pass", pass)
		for name, e := range s.entries {
			s.hints[name] = e.selected
		}
	}

	e := s.entries[s.changed]
	var origins []resolveerr.Origin
	var refs []ref.Reference
	if e != nil {
		origins = e.origins
		refs = competing(e)
	}
	return nil, &resolveerr.ConflictError{Record: resolveerr.NewConflictRecord(s.changed,
		fmt.Sprintf("resolution did not converge after %d passes", s.maxPasses), refs, origins)}
}

func (s *Solver) runPass(ctx context.Context, roots []recipe.Requirement) error {
	logger := ctxlog.FromContext(ctx)
	var queue []queued

	for _, req := range roots {
		origin := resolveerr.Origin{Requested: req.Ref, Override: req.Override}
		if err := s.apply(ctx, req, origin, &queue); err != nil {
			return err
		}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		e := s.entries[item.name]
		if e == nil || !e.selected.Equal(item.ref) {
			logger.Debug("Skipping superseded selection.", "ref", item.ref.String())
			continue
		}
		if _, done := s.expanded[item.name]; done {
			continue
		}

		rec, err := s.provider.Recipe(ctx, item.ref)
		if err != nil {
			return s.recipeError(item, e, err)
		}
		if e.selected.Revision() == "" && rec.Ref.Revision() != "" {
			e.selected = e.selected.WithRevision(rec.Ref.Revision())
		}
		s.expanded[item.name] = e.selected
		logger.Debug("Expanding recipe.", "ref", e.selected.String(), "requires", len(rec.Requires))

		chain := make([]ref.Reference, 0, len(item.chain)+1)
		chain = append(append(chain, item.chain...), e.selected)
		for _, child := range rec.Requires {
			origin := resolveerr.Origin{Requested: child.Ref, Chain: chain, Override: child.Override}
			if err := s.apply(ctx, child, origin, &queue); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Solver) recipeError(item queued, e *entry, err error) error {
	if !errors.Is(err, recipe.ErrNotFound) {
		return fmt.Errorf("loading recipe %s: %w", item.ref, err)
	}
	origin := resolveerr.Origin{Requested: item.ref, Chain: item.chain}
	if len(e.origins) > 0 {
		origin = e.origins[0]
	}
	nf := &resolveerr.RecipeNotFoundError{Ref: item.ref, Origin: origin, Err: err}
	if len(origin.Chain) == 0 {
		return nf
	}
	return &resolveerr.GraphError{Stack: slices.Clone(origin.Chain), Err: nf}
}

// apply feeds one requirement into the state and schedules expansion of
// new selections.
func (s *Solver) apply(ctx context.Context, req recipe.Requirement, origin resolveerr.Origin, queue *[]queued) error {
	sel, changed, err := s.Require(ctx, req, origin)
	if err != nil {
		if len(origin.Chain) == 0 {
			return err
		}
		return &resolveerr.GraphError{Stack: slices.Clone(origin.Chain), Err: err}
	}
	if !changed || sel.IsZero() {
		return nil
	}

	name := req.Ref.Name()
	if prev, done := s.expanded[name]; done {
		if prev.Equal(sel) {
			return nil
		}
		s.changed = name
		return errRestart
	}
	*queue = append(*queue, queued{name: name, ref: sel, chain: origin.Chain})
	return nil
}

// Require processes a single requirement against the current selection
// state. It returns the selection for the requirement's package and whether
// the call changed it. An override for a package nobody requires yet
// returns the zero reference.
func (s *Solver) Require(ctx context.Context, req recipe.Requirement, origin resolveerr.Origin) (ref.Reference, bool, error) {
	if req.Ref.IsZero() {
		return ref.Reference{}, false, errors.New("solver: empty requirement")
	}
	if req.Override {
		return s.requireOverride(ctx, req, origin)
	}

	name := req.Ref.Name()
	logger := ctxlog.FromContext(ctx).With("package", name, "requested", req.Ref.String(), "by", origin.Path())

	if f, ok := s.forced[name]; ok {
		e, exists := s.entries[name]
		if !exists {
			e = s.newEntry(name)
			e.selected, e.pinned, e.overridden = f.ref, true, true
		}
		e.origins = append(e.origins, origin)
		if !satisfiedBy(req.Ref, f.ref) {
			s.noteOverride(ctx, name, req.Ref, f)
		}
		logger.Debug("Requirement superseded by override.", "selected", e.selected.String())
		return e.selected, !exists, nil
	}

	e, exists := s.entries[name]
	if !exists {
		sel, rng, err := s.initialSelection(ctx, req, origin)
		if err != nil {
			return ref.Reference{}, false, err
		}
		e = s.newEntry(name)
		e.selected = sel
		e.pinned = !req.Ref.IsRange()
		e.origins = append(e.origins, origin)
		if rng != nil {
			e.ranges = append(e.ranges, rangeReq{rng: *rng, origin: origin})
		}
		logger.Debug("Package selected.", "selected", sel.String())
		return sel, true, nil
	}

	e.origins = append(e.origins, origin)
	if e.overridden {
		return e.selected, false, nil
	}
	if !req.Ref.SamePackage(e.selected) {
		return ref.Reference{}, false, s.conflict(e, "user/channel differ")
	}

	if req.Ref.IsRange() {
		rng, err := parseRange(req.Ref)
		if err != nil {
			return ref.Reference{}, false, err
		}
		e.ranges = append(e.ranges, rangeReq{rng: rng, origin: origin})
		if rng.Allows(e.selected.Version()) {
			return e.selected, false, nil
		}
		if e.pinned {
			return ref.Reference{}, false, s.conflict(e, fmt.Sprintf("%s does not satisfy range %s", e.selected, rng))
		}
		best, ok, err := s.highest(ctx, e.selected, e.ranges)
		if err != nil {
			return ref.Reference{}, false, err
		}
		if !ok {
			return ref.Reference{}, false, s.conflict(e, "no available version satisfies all ranges")
		}
		logger.Debug("Range narrowed selection.", "from", e.selected.String(), "to", best.String())
		e.selected = best
		return best, true, nil
	}

	if req.Ref.Version() == e.selected.Version() {
		switch {
		case req.Ref.Revision() == "" || req.Ref.Revision() == e.selected.Revision():
			e.pinned = true
			return e.selected, false, nil
		case e.selected.Revision() == "":
			e.selected = e.selected.WithRevision(req.Ref.Revision())
			e.pinned = true
			return e.selected, true, nil
		default:
			return ref.Reference{}, false, s.conflict(e, "revisions differ")
		}
	}
	if e.pinned {
		return ref.Reference{}, false, s.conflict(e, "exact versions differ")
	}
	for _, r := range e.ranges {
		if !r.rng.Allows(req.Ref.Version()) {
			return ref.Reference{}, false, s.conflict(e, fmt.Sprintf("%s does not satisfy range %s", req.Ref, r.rng))
		}
	}
	logger.Debug("Exact requirement pinned range selection.", "from", e.selected.String())
	e.selected = req.Ref
	e.pinned = true
	return e.selected, true, nil
}

func (s *Solver) requireOverride(ctx context.Context, req recipe.Requirement, origin resolveerr.Origin) (ref.Reference, bool, error) {
	name := req.Ref.Name()
	logger := ctxlog.FromContext(ctx).With("package", name, "override", req.Ref.String(), "by", origin.Path())

	target := req.Ref
	if target.IsRange() {
		rng, err := parseRange(target)
		if err != nil {
			return ref.Reference{}, false, err
		}
		best, ok, err := s.highest(ctx, target, []rangeReq{{rng: rng, origin: origin}})
		if err != nil {
			return ref.Reference{}, false, err
		}
		if !ok {
			return ref.Reference{}, false, &resolveerr.RecipeNotFoundError{Ref: target, Origin: origin, Err: recipe.ErrNotFound}
		}
		target = best
	}

	e, exists := s.entries[name]
	if exists {
		e.origins = append(e.origins, origin)
	}

	if f, ok := s.forced[name]; ok {
		if !f.ref.Equal(target) {
			logger.Warn("Competing override ignored.", "kept", f.ref.String(), "kept_by", f.origin.Path())
		}
		if !exists {
			return ref.Reference{}, false, nil
		}
		return e.selected, false, nil
	}

	f := forcedRef{ref: target, origin: origin}
	s.forced[name] = f
	if !exists {
		logger.Debug("Override registered before any requirement.")
		return ref.Reference{}, false, nil
	}

	e.overridden = true
	e.pinned = true
	if satisfiedBy(e.selected, target) {
		return e.selected, false, nil
	}
	s.noteOverride(ctx, name, e.selected, f)
	e.selected = target
	return target, true, nil
}

func (s *Solver) noteOverride(ctx context.Context, name string, replaced ref.Reference, f forcedRef) {
	direction := "changed"
	if !replaced.IsRange() {
		c, semantic := version.Compare(replaced.Version(), f.ref.Version())
		switch {
		case !semantic:
			direction = "changed (versions compared lexicographically)"
		case c < 0:
			direction = "upgraded"
		case c > 0:
			direction = "downgraded"
		}
	}
	ctxlog.FromContext(ctx).Warn("Requirement overridden.",
		"package", name, "requested", replaced.String(), "selected", f.ref.String(), "direction", direction, "override_by", f.origin.Path())
	s.overrides = append(s.overrides, resolveerr.Override{
		PackageName: name,
		Replaced:    replaced,
		By:          f.ref,
		Origin:      f.origin,
	})
}

func (s *Solver) newEntry(name string) *entry {
	e := &entry{name: name}
	s.entries[name] = e
	s.order = append(s.order, name)
	return e
}

// initialSelection picks the first selection for a package: the exact
// reference, or for a range the hint from a previous pass if it still fits,
// else the highest available version.
func (s *Solver) initialSelection(ctx context.Context, req recipe.Requirement, origin resolveerr.Origin) (ref.Reference, *version.Range, error) {
	if !req.Ref.IsRange() {
		return req.Ref, nil, nil
	}
	rng, err := parseRange(req.Ref)
	if err != nil {
		return ref.Reference{}, nil, err
	}
	if hint, ok := s.hints[req.Ref.Name()]; ok && hint.SamePackage(req.Ref) && rng.Allows(hint.Version()) {
		return hint, &rng, nil
	}
	best, ok, err := s.highest(ctx, req.Ref, []rangeReq{{rng: rng, origin: origin}})
	if err != nil {
		return ref.Reference{}, nil, err
	}
	if !ok {
		return ref.Reference{}, nil, &resolveerr.RecipeNotFoundError{
			Ref:    req.Ref,
			Origin: origin,
			Err:    fmt.Errorf("no version satisfies %s: %w", rng, recipe.ErrNotFound),
		}
	}
	return best, &rng, nil
}

// highest returns the highest available version of pkg allowed by every
// range.
func (s *Solver) highest(ctx context.Context, pkg ref.Reference, ranges []rangeReq) (ref.Reference, bool, error) {
	available, err := s.provider.Versions(ctx, pkg.Name(), pkg.User(), pkg.Channel())
	if err != nil {
		return ref.Reference{}, false, fmt.Errorf("listing versions of %s: %w", pkg.PackageKey(), err)
	}
	versions := make([]string, len(available))
	for i, r := range available {
		versions[i] = r.Version()
	}
	rngs := make([]version.Range, len(ranges))
	for i, r := range ranges {
		rngs[i] = r.rng
	}
	best, ok := version.MaxSatisfying(versions, rngs...)
	if !ok {
		return ref.Reference{}, false, nil
	}
	return pkg.WithVersion(best), true, nil
}

func (s *Solver) conflict(e *entry, reason string) error {
	return &resolveerr.ConflictError{Record: resolveerr.NewConflictRecord(e.name, reason, competing(e), e.origins)}
}

func competing(e *entry) []ref.Reference {
	refs := []ref.Reference{e.selected}
	for _, o := range e.origins {
		refs = append(refs, o.Requested)
	}
	return refs
}

func parseRange(r ref.Reference) (version.Range, error) {
	rng, err := version.ParseRange(r.RangeExpr())
	if err != nil {
		return version.Range{}, &resolveerr.MalformedReferenceError{Text: r.String(), Reason: err.Error()}
	}
	return rng, nil
}

// satisfiedBy reports whether selection fulfils requested, ignoring user
// and channel.
func satisfiedBy(requested, selection ref.Reference) bool {
	if requested.IsRange() {
		rng, err := parseRange(requested)
		return err == nil && rng.Allows(selection.Version())
	}
	if requested.Version() != selection.Version() {
		return false
	}
	return requested.Revision() == "" || requested.Revision() == selection.Revision()
}
