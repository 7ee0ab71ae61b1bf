// Package settings holds typed settings and options mappings validated
// against a schema. Reads and writes of undeclared keys fail instead of
// creating new entries.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrUnknownKey is returned when a key is not declared in the schema.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidValue is returned when a value is outside the declared set.
	ErrInvalidValue = errors.New("invalid value")
)

// Definition declares one settings axis or option. An empty Values list
// accepts any value.
type Definition struct {
	Name    string
	Values  []string
	Default string
}

// Allows reports whether v is an accepted value.
func (d Definition) Allows(v string) bool {
	return len(d.Values) == 0 || slices.Contains(d.Values, v)
}

// Schema is an immutable set of definitions. It is constructed once per
// resolution run and shared by reference.
type Schema struct {
	defs map[string]Definition
}

// NewSchema validates and indexes the given definitions.
func NewSchema(defs ...Definition) (*Schema, error) {
	s := &Schema{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("settings: definition with empty name")
		}
		if _, dup := s.defs[d.Name]; dup {
			return nil, fmt.Errorf("settings: duplicate definition %q", d.Name)
		}
		if d.Default != "" && !d.Allows(d.Default) {
			return nil, fmt.Errorf("settings: default %q for %q: %w", d.Default, d.Name, ErrInvalidValue)
		}
		d.Values = slices.Clone(d.Values)
		s.defs[d.Name] = d
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(defs ...Definition) *Schema {
	s, err := NewSchema(defs...)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultSchema returns the built-in settings axes.
func DefaultSchema() *Schema {
	return MustSchema(
		Definition{Name: "os", Values: []string{"Linux", "Macos", "Windows", "FreeBSD"}, Default: "Linux"},
		Definition{Name: "arch", Values: []string{"x86", "x86_64", "armv7", "armv8"}, Default: "x86_64"},
		Definition{Name: "compiler", Values: []string{"gcc", "clang", "apple-clang", "Visual Studio"}, Default: "gcc"},
		Definition{Name: "compiler.version"},
		Definition{Name: "compiler.libcxx", Values: []string{"libstdc++", "libstdc++11", "libc++"}},
		Definition{Name: "build_type", Values: []string{"Debug", "Release", "RelWithDebInfo", "MinSizeRel"}, Default: "Release"},
	)
}

// Lookup returns the definition for name.
func (s *Schema) Lookup(name string) (Definition, bool) {
	if s == nil {
		return Definition{}, false
	}
	d, ok := s.defs[name]
	return d, ok
}

// Names returns all declared names in sorted order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.defs))
}

// Validate checks a single key/value pair.
func (s *Schema) Validate(key, value string) error {
	d, ok := s.Lookup(key)
	if !ok {
		return fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	if !d.Allows(value) {
		return fmt.Errorf("%q=%q (allowed: %v): %w", key, value, d.Values, ErrInvalidValue)
	}
	return nil
}

// Values is a mapping constrained by a Schema. The zero value is not usable;
// construct it with NewValues.
type Values struct {
	schema *Schema
	m      map[string]string
}

// NewValues returns an empty mapping bound to schema.
func NewValues(schema *Schema) *Values {
	return &Values{schema: schema, m: make(map[string]string)}
}

// Schema returns the schema the mapping is bound to.
func (v *Values) Schema() *Schema { return v.schema }

// Set validates and stores a value.
func (v *Values) Set(key, value string) error {
	if err := v.schema.Validate(key, value); err != nil {
		return err
	}
	v.m[key] = value
	return nil
}

// Get returns the stored value. Reading an undeclared key is an error.
func (v *Values) Get(key string) (string, bool, error) {
	if _, ok := v.schema.Lookup(key); !ok {
		return "", false, fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	val, ok := v.m[key]
	return val, ok, nil
}

// Value returns the stored value or "" if unset or undeclared.
func (v *Values) Value(key string) string {
	return v.m[key]
}

// Keys returns the keys that hold a value, sorted.
func (v *Values) Keys() []string {
	return slices.Sorted(maps.Keys(v.m))
}

func (v *Values) Len() int { return len(v.m) }

// Clone returns an independent copy bound to the same schema.
func (v *Values) Clone() *Values {
	return &Values{schema: v.schema, m: maps.Clone(v.m)}
}

// Map returns a copy of the stored pairs.
func (v *Values) Map() map[string]string {
	return maps.Clone(v.m)
}
