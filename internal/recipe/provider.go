package recipe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/version"
)

// ErrNotFound is returned by providers that have no recipe for a reference.
var ErrNotFound = errors.New("recipe not found")

// Provider loads recipes. Implementations must be safe for concurrent use.
type Provider interface {
	// Recipe returns the recipe for r. A reference without revision
	// resolves to the latest known revision.
	Recipe(ctx context.Context, r ref.Reference) (*Recipe, error)
	// Versions lists the available references of a package, without
	// revisions, ordered from lowest to highest version.
	Versions(ctx context.Context, name, user, channel string) ([]ref.Reference, error)
}

// MemoryProvider serves recipes held in memory.
type MemoryProvider struct {
	mu      sync.RWMutex
	recipes []*Recipe
}

func NewMemoryProvider(recipes ...*Recipe) *MemoryProvider {
	p := &MemoryProvider{}
	for _, r := range recipes {
		p.Add(r)
	}
	return p
}

// Add stores a recipe. Adding the same reference again replaces it; a new
// revision of an existing version becomes the latest one.
func (p *MemoryProvider) Add(r *Recipe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recipes = slices.DeleteFunc(p.recipes, func(existing *Recipe) bool {
		return existing.Ref.Equal(r.Ref)
	})
	p.recipes = append(p.recipes, r)
}

func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.recipes)
}

// All returns every stored recipe in insertion order.
func (p *MemoryProvider) All() []*Recipe {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.recipes)
}

func (p *MemoryProvider) Recipe(_ context.Context, r ref.Reference) (*Recipe, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.recipes) - 1; i >= 0; i-- {
		if r.Matches(p.recipes[i].Ref) {
			return p.recipes[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", r, ErrNotFound)
}

func (p *MemoryProvider) Versions(ctx context.Context, name, user, channel string) ([]ref.Reference, error) {
	p.mu.RLock()
	var out []ref.Reference
	for _, rec := range p.recipes {
		r := rec.Ref.WithoutRevision()
		if r.Name() == name && r.User() == user && r.Channel() == channel {
			out = append(out, r)
		}
	}
	p.mu.RUnlock()
	return SortVersions(ctx, out), nil
}

// SortVersions orders references by version, lowest first, and drops
// duplicates. Non-semantic versions sort after semantic ones and
// lexicographically among themselves; a warning is logged when any are present.
func SortVersions(ctx context.Context, refs []ref.Reference) []ref.Reference {
	lexical := false
	slices.SortStableFunc(refs, func(a, b ref.Reference) int {
		c, semantic := version.Compare(a.Version(), b.Version())
		if !semantic {
			lexical = true
		}
		return c
	})
	refs = slices.CompactFunc(refs, func(a, b ref.Reference) bool { return a.Equal(b) })
	if lexical && len(refs) > 0 {
		ctxlog.FromContext(ctx).Warn("Versions are not all semantic, ordering lexicographically.", "package", refs[0].Name())
	}
	return refs
}

// ChainProvider queries providers in order. The first provider that has a
// recipe wins; version listings are merged.
type ChainProvider struct {
	providers []Provider
}

func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

func (c *ChainProvider) Recipe(ctx context.Context, r ref.Reference) (*Recipe, error) {
	for i, p := range c.providers {
		rec, err := p.Recipe(ctx, r)
		if err == nil {
			ctxlog.FromContext(ctx).Debug("Recipe found.", "ref", r.String(), "provider", i)
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", r, ErrNotFound)
}

func (c *ChainProvider) Versions(ctx context.Context, name, user, channel string) ([]ref.Reference, error) {
	var all []ref.Reference
	for _, p := range c.providers {
		vs, err := p.Versions(ctx, name, user, channel)
		if err != nil {
			return nil, err
		}
		all = append(all, vs...)
	}
	return SortVersions(ctx, all), nil
}

// CachingProvider memoizes lookups of the wrapped provider for the lifetime
// of one resolution run. Misses are cached too.
type CachingProvider struct {
	next Provider

	mu       sync.Mutex
	recipes  map[ref.Reference]cachedRecipe
	versions map[string][]ref.Reference
}

type cachedRecipe struct {
	recipe *Recipe
	err    error
}

func NewCachingProvider(next Provider) *CachingProvider {
	return &CachingProvider{
		next:     next,
		recipes:  make(map[ref.Reference]cachedRecipe),
		versions: make(map[string][]ref.Reference),
	}
}

func (c *CachingProvider) Recipe(ctx context.Context, r ref.Reference) (*Recipe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.recipes[r]; ok {
		return hit.recipe, hit.err
	}
	rec, err := c.next.Recipe(ctx, r)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c.recipes[r] = cachedRecipe{recipe: rec, err: err}
	return rec, err
}

func (c *CachingProvider) Versions(ctx context.Context, name, user, channel string) ([]ref.Reference, error) {
	key := ref.New(name, "", user, channel).PackageKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.versions[key]; ok {
		return slices.Clone(hit), nil
	}
	vs, err := c.next.Versions(ctx, name, user, channel)
	if err != nil {
		return nil, err
	}
	c.versions[key] = vs
	ctxlog.FromContext(ctx).Debug("Cached version listing.", "package", key, "count", len(vs))
	return slices.Clone(vs), nil
}
