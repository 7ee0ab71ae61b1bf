// Package executor runs the build plan: it walks the build order level by
// level, reuses cached binaries or builds them through the recipe hooks, and
// publishes every node state transition.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vk/pkgplan/internal/binarycache"
	"github.com/vk/pkgplan/internal/buildorder"
	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/events"
	"github.com/vk/pkgplan/internal/metrics"
	"github.com/vk/pkgplan/internal/packageid"
	"github.com/vk/pkgplan/internal/registry"
)

// ErrCancelled is recorded for nodes that never ran because the run was
// cancelled.
var ErrCancelled = errors.New("run cancelled")

// Executor runs one build plan. It is not reusable.
type Executor struct {
	graph    *depgraph.Graph
	levels   []buildorder.Level
	ids      map[int]packageid.ID
	claims   *binarycache.Claims
	registry *registry.Registry

	workers   int
	failFast  bool
	publisher events.Publisher
	metrics   *metrics.Collectors
	output    io.Writer

	mu     sync.Mutex
	states map[int]events.State
	errs   map[int]error
	arts   map[int]binarycache.Artifact
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds the number of nodes built concurrently within a level.
// Values below one are ignored.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithFailFast cancels the remaining work after the first failure.
func WithFailFast(v bool) Option {
	return func(e *Executor) { e.failFast = v }
}

// WithPublisher sets where state transitions go. The default logs them.
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithMetrics records per-node durations.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithOutput sets the writer hooks print build output to.
func WithOutput(w io.Writer) Option {
	return func(e *Executor) { e.output = &lockedWriter{w: w} }
}

// New creates an Executor for a resolved graph, its build order and its
// package IDs.
func New(g *depgraph.Graph, levels []buildorder.Level, ids map[int]packageid.ID, claims *binarycache.Claims, reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		graph:     g,
		levels:    levels,
		ids:       ids,
		claims:    claims,
		registry:  reg,
		workers:   1,
		publisher: events.LogPublisher{},
		output:    io.Discard,
		states:    make(map[int]events.State),
		errs:      make(map[int]error),
		arts:      make(map[int]binarycache.Artifact),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	// States holds the terminal state of every non-root node.
	States    map[int]events.State
	Errors    map[int]error
	Artifacts map[int]binarycache.Artifact
}

// Count returns how many nodes ended in state s.
func (r *Result) Count(s events.State) int {
	n := 0
	for _, st := range r.States {
		if st == s {
			n++
		}
	}
	return n
}

// Run executes every level in order. Levels are barriers: a level starts
// only after every node of the previous one reached a terminal state. A
// failed node blocks its dependents but not unrelated nodes, unless fail-fast
// is set. The returned error joins every node failure in node ID order.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, level := range e.levels {
		for _, id := range level {
			if id != depgraph.RootID {
				e.transition(ctx, runID, id, events.Pending, nil)
			}
		}
	}
	logger.Info("Starting build run.", "levels", len(e.levels), "workers", e.workers, "fail_fast", e.failFast)

	for i, level := range e.levels {
		logger.Debug("Starting level.", "level", i, "nodes", len(level))

		var group errgroup.Group
		group.SetLimit(e.workers)
		for _, id := range level {
			if id == depgraph.RootID {
				continue
			}
			n, ok := e.graph.Node(id)
			if !ok {
				return nil, fmt.Errorf("executor: node %d not found", id)
			}
			if err := runCtx.Err(); err != nil {
				e.transition(ctx, runID, id, events.Blocked, ErrCancelled)
				continue
			}
			if failed, ok := e.failedDependency(n); ok {
				e.transition(ctx, runID, id, events.Blocked, fmt.Errorf("dependency %s did not build", failed))
				continue
			}
			group.Go(func() error {
				if runCtx.Err() != nil {
					e.transition(ctx, runID, n.ID, events.Blocked, ErrCancelled)
					return nil
				}
				if err := e.runNode(runCtx, runID, n); err != nil && e.failFast {
					cancel()
				}
				return nil
			})
		}
		_ = group.Wait()
	}

	res := e.result(runID)
	logger.Info("Build run finished.",
		"built", res.Count(events.Built),
		"reused", res.Count(events.Reused),
		"failed", res.Count(events.Failed),
		"blocked", res.Count(events.Blocked),
	)

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(res.States)) {
		if res.States[id] == events.Failed {
			n, _ := e.graph.Node(id)
			errs = append(errs, fmt.Errorf("%s: %w", n, res.Errors[id]))
		}
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("executor: %d package(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return res, nil
}

func (e *Executor) failedDependency(n *depgraph.Node) (*depgraph.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range n.Deps {
		switch e.states[dep.From] {
		case events.Failed, events.Blocked:
			d, _ := e.graph.Node(dep.From)
			return d, true
		}
	}
	return nil, false
}

func (e *Executor) transition(ctx context.Context, runID string, id int, s events.State, err error) {
	n, _ := e.graph.Node(id)

	e.mu.Lock()
	e.states[id] = s
	if err != nil {
		e.errs[id] = err
	}
	e.mu.Unlock()

	ev := events.Event{
		RunID:     runID,
		NodeID:    id,
		Ref:       n.Ref.String(),
		PackageID: string(e.ids[id]),
		State:     s,
		Time:      time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.publisher.Publish(ctx, ev)
}

func (e *Executor) result(runID string) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &Result{
		RunID:     runID,
		States:    maps.Clone(e.states),
		Errors:    maps.Clone(e.errs),
		Artifacts: maps.Clone(e.arts),
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
