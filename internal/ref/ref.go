// Package ref parses and canonicalizes package coordinates of the form
// name/version@user/channel#revision.
package ref

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nameRegex     = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_+.-]{0,50}$`)
	versionRegex  = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_+.-]*$`)
	revisionRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// Reference identifies a package recipe. It is a value type: copies are
// independent and the zero value is not a valid reference.
type Reference struct {
	name     string
	version  string
	user     string
	channel  string
	revision string
}

// New builds a reference from already-validated parts.
func New(name, version, user, channel string) Reference {
	return Reference{name: name, version: version, user: user, channel: channel}
}

// MalformedReferenceError reports reference text that does not follow the
// canonical grammar.
type MalformedReferenceError struct {
	Text   string
	Reason string
}

func (e *MalformedReferenceError) Error() string {
	return fmt.Sprintf("malformed reference %q: %s", e.Text, e.Reason)
}

func malformed(text, format string, args ...any) error {
	return &MalformedReferenceError{Text: text, Reason: fmt.Sprintf(format, args...)}
}

// Parse reads the canonical string form. User and channel may be omitted,
// "_" is accepted as an explicit empty user or channel, and "#revision" is
// an optional suffix. The version may be a bracketed range such as
// "[>=1.0 <2.0]".
func Parse(text string) (Reference, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Reference{}, malformed(text, "empty reference")
	}

	var r Reference
	if i := strings.LastIndex(raw, "#"); i >= 0 {
		r.revision = raw[i+1:]
		raw = raw[:i]
		if !revisionRegex.MatchString(r.revision) {
			return Reference{}, malformed(text, "invalid revision %q", r.revision)
		}
	}

	coords := raw
	if i := strings.Index(raw, "@"); i >= 0 {
		coords = raw[:i]
		userChannel := raw[i+1:]
		if userChannel == "" {
			return Reference{}, malformed(text, "empty user/channel after '@'")
		}
		parts := strings.Split(userChannel, "/")
		if len(parts) > 2 {
			return Reference{}, malformed(text, "too many '/' in user/channel")
		}
		r.user = parts[0]
		if len(parts) == 2 {
			r.channel = parts[1]
		}
		if r.user == "_" {
			r.user = ""
		}
		if r.channel == "_" {
			r.channel = ""
		}
		if r.user != "" && !nameRegex.MatchString(r.user) {
			return Reference{}, malformed(text, "invalid user %q", r.user)
		}
		if r.channel != "" && !nameRegex.MatchString(r.channel) {
			return Reference{}, malformed(text, "invalid channel %q", r.channel)
		}
		if r.user == "" && r.channel != "" {
			return Reference{}, malformed(text, "channel %q given without user", r.channel)
		}
	}

	i := strings.Index(coords, "/")
	if i < 0 {
		return Reference{}, malformed(text, "expected name/version")
	}
	r.name, r.version = coords[:i], coords[i+1:]
	if !nameRegex.MatchString(r.name) {
		return Reference{}, malformed(text, "invalid name %q", r.name)
	}
	if r.version == "" {
		return Reference{}, malformed(text, "empty version")
	}
	if isRange(r.version) {
		if strings.TrimSpace(r.version[1:len(r.version)-1]) == "" {
			return Reference{}, malformed(text, "empty version range")
		}
		if r.revision != "" {
			return Reference{}, malformed(text, "a version range cannot carry a revision")
		}
	} else if !versionRegex.MatchString(r.version) {
		return Reference{}, malformed(text, "invalid version %q", r.version)
	}
	return r, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static tables.
func MustParse(text string) Reference {
	r, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return r
}

func isRange(v string) bool {
	return len(v) >= 2 && strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]")
}

func (r Reference) Name() string     { return r.name }
func (r Reference) Version() string  { return r.version }
func (r Reference) User() string     { return r.user }
func (r Reference) Channel() string  { return r.channel }
func (r Reference) Revision() string { return r.revision }

// IsZero reports whether r is the zero Reference.
func (r Reference) IsZero() bool { return r == Reference{} }

// IsRange reports whether the version is a bracketed range expression.
func (r Reference) IsRange() bool { return isRange(r.version) }

// RangeExpr returns the constraint text inside the brackets, or "" for
// exact versions.
func (r Reference) RangeExpr() string {
	if !r.IsRange() {
		return ""
	}
	return strings.TrimSpace(r.version[1 : len(r.version)-1])
}

// String renders the canonical form.
func (r Reference) String() string {
	var sb strings.Builder
	sb.WriteString(r.name)
	sb.WriteByte('/')
	sb.WriteString(r.version)
	if r.user != "" {
		sb.WriteByte('@')
		sb.WriteString(r.user)
		if r.channel != "" {
			sb.WriteByte('/')
			sb.WriteString(r.channel)
		}
	}
	if r.revision != "" {
		sb.WriteByte('#')
		sb.WriteString(r.revision)
	}
	return sb.String()
}

// PackageKey identifies the package independent of version and revision.
func (r Reference) PackageKey() string {
	if r.user == "" {
		return r.name
	}
	return r.name + "@" + r.user + "/" + r.channel
}

// Equal compares every field.
func (r Reference) Equal(o Reference) bool { return r == o }

// SamePackage reports whether r and o name the same package: name, user and
// channel match. Version and revision distinguish instances only.
func (r Reference) SamePackage(o Reference) bool {
	return r.name == o.name && r.user == o.user && r.channel == o.channel
}

// Matches reports whether candidate satisfies r used as a constraint. A
// reference without revision matches any revision of the same version.
func (r Reference) Matches(candidate Reference) bool {
	if !r.SamePackage(candidate) || r.version != candidate.version {
		return false
	}
	return r.revision == "" || r.revision == candidate.revision
}

// WithRevision returns a copy of r pinned to rev.
func (r Reference) WithRevision(rev string) Reference {
	r.revision = rev
	return r
}

// WithVersion returns a copy of r with a different version and no revision.
func (r Reference) WithVersion(v string) Reference {
	r.version = v
	r.revision = ""
	return r
}

// WithoutRevision drops the revision.
func (r Reference) WithoutRevision() Reference {
	r.revision = ""
	return r
}
