// Package resolveerr defines the structured errors produced while resolving
// and expanding a dependency graph. Error strings are single-line summaries;
// the report package renders the full diagnostics.
package resolveerr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/version"
)

// MalformedReferenceError is raised for reference text that does not parse.
type MalformedReferenceError = ref.MalformedReferenceError

// Origin records who asked for a requirement. Chain lists the references
// from the first requirement below the root down to the requirer; an empty
// chain means the root request itself.
type Origin struct {
	Requested ref.Reference
	Chain     []ref.Reference
	Override  bool
}

// Requirer returns the last element of the chain, or the zero reference for
// the root.
func (o Origin) Requirer() ref.Reference {
	if len(o.Chain) == 0 {
		return ref.Reference{}
	}
	return o.Chain[len(o.Chain)-1]
}

// Path renders the chain as "root -> a/1.0 -> b/2.0".
func (o Origin) Path() string {
	parts := make([]string, 0, len(o.Chain)+1)
	parts = append(parts, "root")
	for _, r := range o.Chain {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, " -> ")
}

func (o Origin) String() string {
	s := o.Path() + " requires " + o.Requested.String()
	if o.Override {
		s += " (override)"
	}
	return s
}

// Extend returns the chain for requirements declared by r.
func (o Origin) Extend(r ref.Reference) []ref.Reference {
	chain := make([]ref.Reference, 0, len(o.Chain)+1)
	chain = append(chain, o.Chain...)
	return append(chain, r)
}

// ConflictRecord describes incompatible requirements for one package.
type ConflictRecord struct {
	PackageName   string
	CompetingRefs []ref.Reference
	RequestedBy   []Origin
	Reason        string
}

// NewConflictRecord builds a record with competing references sorted by
// version and de-duplicated. Origins keep their arrival order.
func NewConflictRecord(name, reason string, competing []ref.Reference, origins []Origin) ConflictRecord {
	refs := slices.Clone(competing)
	slices.SortFunc(refs, func(a, b ref.Reference) int {
		if c, _ := version.Compare(a.Version(), b.Version()); c != 0 {
			return c
		}
		return strings.Compare(a.String(), b.String())
	})
	refs = slices.CompactFunc(refs, func(a, b ref.Reference) bool { return a.Equal(b) })
	return ConflictRecord{
		PackageName:   name,
		CompetingRefs: refs,
		RequestedBy:   slices.Clone(origins),
		Reason:        reason,
	}
}

// ConflictError is returned when requirements for the same package cannot be
// satisfied by a single reference.
type ConflictError struct {
	Record ConflictRecord
}

func (e *ConflictError) Error() string {
	refs := make([]string, len(e.Record.CompetingRefs))
	for i, r := range e.Record.CompetingRefs {
		refs[i] = r.String()
	}
	msg := fmt.Sprintf("conflict for package %q between %s", e.Record.PackageName, strings.Join(refs, ", "))
	if e.Record.Reason != "" {
		msg += ": " + e.Record.Reason
	}
	return msg
}

// CycleError reports a dependency cycle. Path starts and ends with the same
// package.
type CycleError struct {
	Path []ref.Reference
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + JoinRefs(e.Path, " -> ")
}

// Names returns the package names along the cycle.
func (e *CycleError) Names() []string {
	out := make([]string, len(e.Path))
	for i, r := range e.Path {
		out[i] = r.Name()
	}
	return out
}

// RecipeNotFoundError is returned when no provider knows a requested
// reference.
type RecipeNotFoundError struct {
	Ref    ref.Reference
	Origin Origin
	Err    error
}

func (e *RecipeNotFoundError) Error() string {
	return fmt.Sprintf("recipe not found: %s (required by %s)", e.Ref, e.Origin.Path())
}

func (e *RecipeNotFoundError) Unwrap() error { return e.Err }

// GraphError wraps a failure found during transitive expansion together with
// the expansion stack at the point of failure.
type GraphError struct {
	Stack []ref.Reference
	Err   error
}

func (e *GraphError) Error() string {
	if len(e.Stack) == 0 {
		return "graph expansion failed at root: " + e.Err.Error()
	}
	return fmt.Sprintf("graph expansion failed at %s: %s", JoinRefs(e.Stack, " -> "), e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// JoinRefs renders references with sep.
func JoinRefs(refs []ref.Reference, sep string) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, sep)
}

// Override records a requirement that was replaced by an override.
type Override struct {
	PackageName string
	Replaced    ref.Reference
	By          ref.Reference
	Origin      Origin
}
