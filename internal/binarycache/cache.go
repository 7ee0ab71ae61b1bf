// Package binarycache stores built package artifacts keyed by reference and
// package ID.
package binarycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/pkgplan/internal/packageid"
	"github.com/vk/pkgplan/internal/ref"
)

// ErrNotFound is returned by Fetch when no artifact is stored for a key.
var ErrNotFound = errors.New("artifact not found")

// Key identifies one binary. The package ID alone is not enough: it does not
// include the package's own reference.
type Key struct {
	Ref       ref.Reference
	PackageID packageid.ID
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Ref.WithoutRevision(), k.PackageID)
}

// Artifact is a packaged binary.
type Artifact struct {
	Key    Key
	Digest string
	Data   []byte
}

// NewArtifact builds an artifact and computes its digest.
func NewArtifact(key Key, data []byte) Artifact {
	return Artifact{Key: key, Digest: Digest(data), Data: data}
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cache is the binary cache contract.
type Cache interface {
	Has(ctx context.Context, key Key) (bool, error)
	// Fetch returns ErrNotFound when the key is absent.
	Fetch(ctx context.Context, key Key) (Artifact, error)
	Store(ctx context.Context, a Artifact) error
}

// MemoryCache keeps artifacts in memory.
type MemoryCache struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{artifacts: make(map[string]Artifact)}
}

func (c *MemoryCache) Has(_ context.Context, key Key) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.artifacts[key.String()]
	return ok, nil
}

func (c *MemoryCache) Fetch(_ context.Context, key Key) (Artifact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[key.String()]
	if !ok {
		return Artifact{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	a.Data = slices.Clone(a.Data)
	return a, nil
}

func (c *MemoryCache) Store(_ context.Context, a Artifact) error {
	if a.Digest == "" {
		a.Digest = Digest(a.Data)
	}
	a.Data = slices.Clone(a.Data)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[a.Key.String()] = a
	return nil
}

// Len returns the number of stored artifacts.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.artifacts)
}
