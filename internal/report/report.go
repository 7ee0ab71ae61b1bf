// Package report renders resolution errors as human-readable diagnostics.
// It is the only place structured errors are turned into prose.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/resolveerr"
	"github.com/vk/pkgplan/internal/version"
)

// Format renders err. It never panics and always returns text, falling back
// to the plain error string for unknown or partially populated errors.
func Format(err error) (out string) {
	if err == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("ERROR: %v (diagnostics incomplete: %v)", safeError(err), r)
		}
	}()

	var b strings.Builder
	writeError(&b, err, "")
	return strings.TrimRight(b.String(), "\n")
}

// FormatConflict renders a single conflict record.
func FormatConflict(rec resolveerr.ConflictRecord) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("ERROR: conflict in package %q (diagnostics incomplete: %v)", rec.PackageName, r)
		}
	}()
	var b strings.Builder
	writeConflict(&b, rec, "")
	return strings.TrimRight(b.String(), "\n")
}

// FormatOverrides lists the requirements that overrides replaced, one per
// line, in the order they were applied.
func FormatOverrides(overrides []resolveerr.Override) string {
	var b strings.Builder
	for _, o := range overrides {
		fmt.Fprintf(&b, "WARN: %s: %s overridden to %s (%s)%s\n",
			orUnknown(o.PackageName), refText(o.Replaced), refText(o.By), o.Origin.Path(), direction(o.Replaced, o.By))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeError(b *strings.Builder, err error, indent string) {
	var (
		graphErr     *resolveerr.GraphError
		conflictErr  *resolveerr.ConflictError
		cycleErr     *resolveerr.CycleError
		notFoundErr  *resolveerr.RecipeNotFoundError
		malformedErr *resolveerr.MalformedReferenceError
	)

	switch {
	case errors.As(err, &graphErr) && graphErr != nil:
		if len(graphErr.Stack) == 0 {
			fmt.Fprintf(b, "%sWhile expanding the root requirements:\n", indent)
		} else {
			fmt.Fprintf(b, "%sWhile expanding root -> %s:\n", indent, resolveerr.JoinRefs(graphErr.Stack, " -> "))
		}
		if graphErr.Err == nil {
			fmt.Fprintf(b, "%s  ERROR: unknown failure\n", indent)
			return
		}
		writeError(b, graphErr.Err, indent+"  ")
	case errors.As(err, &conflictErr) && conflictErr != nil:
		writeConflict(b, conflictErr.Record, indent)
	case errors.As(err, &cycleErr) && cycleErr != nil:
		fmt.Fprintf(b, "%sERROR: Dependency cycle detected:\n", indent)
		if len(cycleErr.Path) == 0 {
			fmt.Fprintf(b, "%s  (cycle path unavailable)\n", indent)
			return
		}
		fmt.Fprintf(b, "%s  %s\n", indent, resolveerr.JoinRefs(cycleErr.Path, " -> "))
	case errors.As(err, &notFoundErr) && notFoundErr != nil:
		fmt.Fprintf(b, "%sERROR: Recipe not found: %s\n", indent, refText(notFoundErr.Ref))
		fmt.Fprintf(b, "%s  Required by: %s\n", indent, notFoundErr.Origin.Path())
	case errors.As(err, &malformedErr) && malformedErr != nil:
		fmt.Fprintf(b, "%sERROR: Invalid reference %q: %s\n", indent, malformedErr.Text, malformedErr.Reason)
	default:
		fmt.Fprintf(b, "%sERROR: %s\n", indent, safeError(err))
	}
}

func writeConflict(b *strings.Builder, rec resolveerr.ConflictRecord, indent string) {
	fmt.Fprintf(b, "%sERROR: Conflict in package %q", indent, orUnknown(rec.PackageName))
	if rec.Reason != "" {
		fmt.Fprintf(b, ": %s", rec.Reason)
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "%s  Competing references:\n", indent)
	if len(rec.CompetingRefs) == 0 {
		fmt.Fprintf(b, "%s    (none recorded)\n", indent)
	}
	for _, r := range rec.CompetingRefs {
		fmt.Fprintf(b, "%s    - %s\n", indent, refText(r))
	}

	fmt.Fprintf(b, "%s  Requested by:\n", indent)
	if len(rec.RequestedBy) == 0 {
		fmt.Fprintf(b, "%s    (no origins recorded)\n", indent)
	}
	for _, o := range rec.RequestedBy {
		fmt.Fprintf(b, "%s    - %s\n", indent, originText(o))
	}
}

func originText(o resolveerr.Origin) string {
	s := o.Path() + " requires " + refText(o.Requested)
	if o.Override {
		s += " (override)"
	}
	return s
}

func refText(r ref.Reference) string {
	if r.IsZero() {
		return "<unknown>"
	}
	return r.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "<unknown>"
	}
	return s
}

func direction(from, to ref.Reference) string {
	if from.IsZero() || to.IsZero() || from.IsRange() || to.IsRange() {
		return ""
	}
	c, semantic := version.Compare(from.Version(), to.Version())
	switch {
	case c < 0 && semantic:
		return " [upgrade]"
	case c > 0 && semantic:
		return " [downgrade]"
	case c != 0:
		return " [non-semantic versions]"
	}
	return ""
}

func safeError(err error) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T", err)
		}
	}()
	return err.Error()
}
