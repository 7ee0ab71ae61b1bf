// Package events publishes node state transitions of a build run.
package events

import (
	"context"
	"sync"
	"time"
)

// State is the execution state of a graph node.
type State int

const (
	Pending State = iota
	Running
	// Built means the node was built from source and stored in the cache.
	Built
	// Reused means a cached binary was used.
	Reused
	Failed
	// Blocked means a dependency failed, so the node never ran.
	Blocked
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Built:
		return "built"
	case Reused:
		return "reused"
	case Failed:
		return "failed"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Built || s == Reused || s == Failed || s == Blocked
}

// Event is a single node state transition.
type Event struct {
	RunID     string    `json:"run_id"`
	NodeID    int       `json:"node_id"`
	Ref       string    `json:"ref"`
	PackageID string    `json:"package_id,omitempty"`
	State     State     `json:"-"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher receives node state transitions. Implementations must be safe
// for concurrent use and must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans events out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Final returns the last recorded state of every node reference.
func (r *Recorder) Final() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State)
	for _, e := range r.events {
		out[e.Ref] = e.State
	}
	return out
}
