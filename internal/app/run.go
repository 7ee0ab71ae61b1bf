package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/vk/pkgplan/internal/binarycache"
	"github.com/vk/pkgplan/internal/buildorder"
	"github.com/vk/pkgplan/internal/config"
	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/events"
	"github.com/vk/pkgplan/internal/executor"
	"github.com/vk/pkgplan/internal/lockfile"
	"github.com/vk/pkgplan/internal/packageid"
	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/report"
	"github.com/vk/pkgplan/internal/resolveerr"
	"github.com/vk/pkgplan/internal/settings"
)

// Outcome is what a run produced.
type Outcome struct {
	Graph  *depgraph.Graph
	Levels []buildorder.Level
	IDs    map[int]packageid.ID
	// Result is nil unless the plan was executed.
	Result *executor.Result
}

// Run resolves the configured requirements, prints the build plan and, when
// configured, executes it.
func (a *App) Run(ctx context.Context) (*Outcome, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		if err := a.startHealthcheckServer(a.config.HealthcheckPort); err != nil {
			return nil, err
		}
		defer a.closeHealthcheckServer(ctx)
	}

	profile := &config.Profile{}
	if a.config.ProfilePath != "" {
		p, err := config.LoadProfile(ctx, a.config.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	var schema *settings.Schema
	if a.config.SchemaPath != "" {
		s, err := settings.LoadSchema(ctx, a.config.SchemaPath)
		if err != nil {
			return nil, err
		}
		schema = s
	}

	provider, err := a.loadRecipes(ctx, slices.Concat(a.config.RemotePaths, profile.Remotes))
	if err != nil {
		return nil, err
	}

	roots, locked, err := a.roots()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	g, res, err := depgraph.NewBuilder(provider, nil, schema, profile.Graph()).BuildWithResolution(ctx, roots)
	var conflict *resolveerr.ConflictError
	a.metrics.ObserveResolution(time.Since(start), errors.As(err, &conflict))
	if err != nil {
		return nil, err
	}
	if len(res.Overrides) > 0 {
		a.logger.Warn("Requirements were overridden.\n" + report.FormatOverrides(res.Overrides))
	}

	levels, err := buildorder.Order(g)
	if err != nil {
		return nil, err
	}
	ids, err := packageid.ComputeAll(g, packageid.SHA1)
	if err != nil {
		return nil, err
	}
	a.metrics.ObserveGraph(g.Len()-1, len(levels))
	writePlan(a.outW, g, levels, ids)

	resolved := lockfile.FromGraph(g, ids)
	if locked != nil {
		if drift := locked.Diff(resolved); len(drift) > 0 {
			a.logger.Warn("Resolution differs from lockfile.", "path", a.config.LockedPath, "changes", strings.Join(drift, "; "))
		}
	}
	if a.config.LockfilePath != "" {
		if err := lockfile.WriteFile(a.config.LockfilePath, resolved); err != nil {
			return nil, err
		}
		a.logger.Info("Lockfile written.", "path", a.config.LockfilePath)
	}

	out := &Outcome{Graph: g, Levels: levels, IDs: ids}
	if !a.config.Build {
		a.logger.Debug("App.Run method finished without building.")
		return out, nil
	}

	out.Result, err = a.execute(ctx, out, profile)
	a.logger.Debug("App.Run method finished.")
	return out, err
}

func (a *App) loadRecipes(ctx context.Context, remotes []string) (recipe.Provider, error) {
	local, err := recipe.LoadHCL(ctx, a.config.RecipePaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipes: %w", err)
	}
	all := local.All()
	chain := []recipe.Provider{local}
	for _, path := range remotes {
		remote, err := recipe.LoadHCL(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load remote %s: %w", path, err)
		}
		all = append(all, remote.All()...)
		chain = append(chain, remote)
	}
	if err := a.registry.Validate(ctx, all); err != nil {
		return nil, err
	}
	a.logger.Debug("Registry validation passed.", "recipes", len(all))
	return recipe.NewCachingProvider(recipe.NewChainProvider(chain...)), nil
}

// roots returns the root requirements and, with --locked, the lockfile
// whose packages were appended to them as overrides.
func (a *App) roots() ([]recipe.Requirement, *lockfile.Lockfile, error) {
	var roots []recipe.Requirement
	for _, text := range a.config.Requires {
		r, err := ref.Parse(text)
		if err != nil {
			return nil, nil, err
		}
		roots = append(roots, recipe.Requirement{Ref: r})
	}
	if a.config.LockedPath == "" {
		return roots, nil, nil
	}
	locked, err := lockfile.ReadFile(a.config.LockedPath)
	if err != nil {
		return nil, nil, err
	}
	overrides, err := locked.Overrides()
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("Applying lockfile.", "path", a.config.LockedPath, "packages", len(overrides))
	return append(roots, overrides...), locked, nil
}

func (a *App) execute(ctx context.Context, plan *Outcome, profile *config.Profile) (*executor.Result, error) {
	var (
		cache  binarycache.Cache
		stored *binarycache.SQLiteCache
	)
	if a.config.CacheDir != "" {
		c, err := binarycache.NewSQLiteCache(a.config.CacheDir)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		cache, stored = c, c
	} else {
		cache = binarycache.NewMemoryCache()
	}

	publishers := events.Multi{events.LogPublisher{}, a.metrics}
	if a.config.EventsURL != "" {
		sio, err := events.NewSocketIOPublisher(ctx, events.SocketIOConfig{URL: a.config.EventsURL})
		if err != nil {
			return nil, err
		}
		defer sio.Close()
		publishers = append(publishers, sio)
	}

	workers := a.config.Workers
	if workers == 0 {
		workers = profile.Workers
	}
	exec := executor.New(plan.Graph, plan.Levels, plan.IDs, binarycache.NewClaims(cache), a.registry,
		executor.WithWorkers(workers),
		executor.WithFailFast(a.config.FailFast || profile.FailFast),
		executor.WithPublisher(publishers),
		executor.WithMetrics(a.metrics),
		executor.WithOutput(a.outW),
	)
	res, err := exec.Run(ctx)
	if stored != nil {
		a.logCachedBinaries(ctx, stored, plan.Graph)
	}
	return res, err
}

// logCachedBinaries logs, per package, how many binaries the persistent
// cache holds across package IDs.
func (a *App) logCachedBinaries(ctx context.Context, c *binarycache.SQLiteCache, g *depgraph.Graph) {
	for _, n := range g.Nodes() {
		if n.IsRoot() {
			continue
		}
		keys, err := c.Keys(ctx, n.Ref.WithoutRevision().String())
		if err != nil {
			a.logger.Warn("Failed to list cached binaries.", "ref", n.Ref.String(), "error", err)
			continue
		}
		a.logger.Debug("Cached binaries.", "ref", n.Ref.String(), "count", len(keys))
	}
}

// writePlan prints one line per level with the references and package IDs
// of its nodes.
func writePlan(w io.Writer, g *depgraph.Graph, levels []buildorder.Level, ids map[int]packageid.ID) {
	for i, level := range levels {
		var parts []string
		for _, id := range level {
			n, _ := g.Node(id)
			if n.IsRoot() {
				continue
			}
			entry := fmt.Sprintf("%s:%s", n.Ref, ids[id])
			if n.IsBuildRequire {
				entry += " (build)"
			}
			parts = append(parts, entry)
		}
		if len(parts) > 0 {
			fmt.Fprintf(w, "level %d: %s\n", i, strings.Join(parts, " "))
		}
	}
}
