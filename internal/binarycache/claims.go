package binarycache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/vk/pkgplan/internal/ctxlog"
)

// BuildFunc produces the artifact for a key that is not cached yet.
type BuildFunc func(ctx context.Context) (Artifact, error)

// Claims guarantees at most one concurrent build per key. Callers racing for
// the same key wait for the first one and reuse its result.
type Claims struct {
	cache Cache
	group singleflight.Group
}

func NewClaims(cache Cache) *Claims {
	return &Claims{cache: cache}
}

// Cache returns the underlying cache.
func (c *Claims) Cache() Cache { return c.cache }

// Ensure returns the cached artifact for key, building and storing it first
// if needed. built is true only for the caller whose build function ran.
func (c *Claims) Ensure(ctx context.Context, key Key, build BuildFunc) (a Artifact, built bool, err error) {
	leader := false
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		leader = true
		return c.fetchOrBuild(ctx, key, build)
	})
	if err != nil {
		return Artifact{}, false, err
	}
	res := v.(ensured)
	return res.artifact, leader && res.built, nil
}

type ensured struct {
	artifact Artifact
	built    bool
}

func (c *Claims) fetchOrBuild(ctx context.Context, key Key, build BuildFunc) (ensured, error) {
	logger := ctxlog.FromContext(ctx)

	ok, err := c.cache.Has(ctx, key)
	if err != nil {
		return ensured{}, fmt.Errorf("binarycache: lookup %s: %w", key, err)
	}
	if ok {
		a, err := c.cache.Fetch(ctx, key)
		if err != nil {
			return ensured{}, fmt.Errorf("binarycache: fetch %s: %w", key, err)
		}
		logger.Debug("Reusing cached binary.", "key", key.String())
		return ensured{artifact: a}, nil
	}

	a, err := build(ctx)
	if err != nil {
		return ensured{}, err
	}
	a.Key = key
	if a.Digest == "" {
		a.Digest = Digest(a.Data)
	}
	if err := c.cache.Store(ctx, a); err != nil {
		return ensured{}, fmt.Errorf("binarycache: store %s: %w", key, err)
	}
	logger.Debug("Stored built binary.", "key", key.String(), "digest", a.Digest)
	return ensured{artifact: a, built: true}, nil
}
