package executor

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/vk/pkgplan/internal/binarycache"
	"github.com/vk/pkgplan/internal/buildinfo"
	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/events"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/registry"
)

// runNode reuses or builds one node, then runs its package_info hook so
// consumers in later levels see what it exports.
func (e *Executor) runNode(ctx context.Context, runID string, n *depgraph.Node) error {
	ctx = ctxlog.With(ctx, "ref", n.Ref.String())
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	e.transition(ctx, runID, n.ID, events.Running, nil)

	art, built, err := e.buildNode(ctx, runID, n)
	if err != nil {
		logger.Error("Package failed.", "error", err)
		e.transition(ctx, runID, n.ID, events.Failed, err)
		e.observe(events.Failed, start)
		return err
	}

	state := events.Reused
	if built {
		state = events.Built
	}
	e.mu.Lock()
	e.arts[n.ID] = art
	e.mu.Unlock()

	e.transition(ctx, runID, n.ID, state, nil)
	e.observe(state, start)
	return nil
}

func (e *Executor) buildNode(ctx context.Context, runID string, n *depgraph.Node) (binarycache.Artifact, bool, error) {
	if n.Recipe == nil {
		return binarycache.Artifact{}, false, fmt.Errorf("node has no recipe")
	}
	hooks, err := e.registry.Hooks(n.Recipe.Lifecycle)
	if err != nil {
		return binarycache.Artifact{}, false, err
	}
	deps, err := buildinfo.Flatten(e.graph, n.ID)
	if err != nil {
		return binarycache.Artifact{}, false, err
	}

	id, ok := e.ids[n.ID]
	if !ok {
		return binarycache.Artifact{}, false, fmt.Errorf("no package ID computed")
	}
	bc := &registry.BuildContext{
		RunID:     runID,
		Ref:       n.Ref,
		PackageID: id,
		Settings:  n.Settings.Map(),
		Options:   n.Options.Map(),
		Deps:      deps,
		Output:    e.output,
		UserInfo:  maps.Clone(n.UserInfo),
	}
	key := binarycache.Key{Ref: n.Ref, PackageID: id}

	art, built, err := e.claims.Ensure(ctx, key, func(ctx context.Context) (binarycache.Artifact, error) {
		ctxlog.FromContext(ctx).Info("Building package from source.", "package_id", string(id))
		if err := hooks.Build(ctx, bc); err != nil {
			return binarycache.Artifact{}, fmt.Errorf("build: %w", err)
		}
		if err := hooks.Package(ctx, bc); err != nil {
			return binarycache.Artifact{}, fmt.Errorf("package: %w", err)
		}
		data := bytes.Clone(bc.Package.Bytes())
		if len(data) == 0 {
			data = []byte(key.String())
		}
		return binarycache.Artifact{Data: data}, nil
	})
	if err != nil {
		return binarycache.Artifact{}, false, err
	}

	var info recipe.CppInfo
	if n.CppInfo != nil {
		info = n.CppInfo.Clone()
	}
	if bc.UserInfo == nil {
		bc.UserInfo = make(map[string]string)
	}
	if err := hooks.PackageInfo(ctx, bc, &info); err != nil {
		return binarycache.Artifact{}, false, fmt.Errorf("package_info: %w", err)
	}
	n.CppInfo = &info
	n.UserInfo = bc.UserInfo
	return art, built, nil
}

func (e *Executor) observe(s events.State, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveNode(s, time.Since(start))
	}
}
