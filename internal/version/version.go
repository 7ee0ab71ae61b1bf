// Package version orders package versions and evaluates version ranges.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3 that adds a
// total order over freeform (non-semantic) versions.
package version

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a parsed semantic version together with its original text.
type Version struct {
	raw string
	v   *mm.Version
}

// Range is a version range expression.
//
// Examples:
// - ">=1.2.0 <2.0.0"
// - ">=1.1, <2"
// - "^1.0.0"
// - "~1.4"
type Range struct {
	raw string
	c   *mm.Constraints
}

// Parse parses a semantic version. Partial versions such as "1.2" are
// accepted.
func Parse(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("version: parse version %q: %w", raw, err)
	}
	return Version{raw: raw, v: v}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string { return v.raw }

// ParseRange parses a range expression. An empty expression is an error.
func ParseRange(raw string) (Range, error) {
	expr := strings.TrimSpace(raw)
	if expr == "" {
		return Range{}, fmt.Errorf("version: empty range")
	}
	c, err := mm.NewConstraint(expr)
	if err != nil {
		return Range{}, fmt.Errorf("version: parse range %q: %w", raw, err)
	}
	return Range{raw: expr, c: c}, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Range) String() string { return r.raw }

// Allows reports whether the version text falls inside the range. Versions
// that are not semantic never satisfy a range.
func (r Range) Allows(raw string) bool {
	if r.c == nil {
		return false
	}
	v, err := Parse(raw)
	if err != nil {
		return false
	}
	return r.c.Check(v.v)
}

// Compare orders two version strings, returning -1, 0 or 1.
//
// When both sides are semantic versions the semantic order is used and
// semantic is true; textual differences between semantically equal versions
// ("1.0" and "1.0.0") are broken lexicographically. Otherwise semantic is
// false: every semantic version ranks below every non-semantic one, and two
// non-semantic versions compare lexicographically.
func Compare(a, b string) (cmp int, semantic bool) {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.v.Compare(vb.v); c != 0 {
			return c, true
		}
		return strings.Compare(a, b), true
	case errA == nil:
		return -1, false
	case errB == nil:
		return 1, false
	}
	return strings.Compare(a, b), false
}

// Highest returns the greatest version in candidates under Compare. The
// semantic result is false if any comparison had to fall back to
// lexicographic ordering.
func Highest(candidates []string) (best string, semantic bool, ok bool) {
	semantic = true
	for _, c := range candidates {
		if !ok {
			best, ok = c, true
			continue
		}
		cmp, sem := Compare(c, best)
		if !sem {
			semantic = false
		}
		if cmp > 0 {
			best = c
		}
	}
	return best, semantic, ok
}

// MaxSatisfying returns the highest candidate allowed by every range.
func MaxSatisfying(candidates []string, ranges ...Range) (string, bool) {
	allowed := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if allowsAll(c, ranges) {
			allowed = append(allowed, c)
		}
	}
	best, _, ok := Highest(allowed)
	return best, ok
}

func allowsAll(v string, ranges []Range) bool {
	for _, r := range ranges {
		if !r.Allows(v) {
			return false
		}
	}
	return true
}
