package hclutil

import (
	"fmt"
	"maps"
	"slices"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// StringMap flattens an object or map value into string pairs. Primitive
// values of any type are converted to their string form, so both
// `shared = true` and `shared = "True"` are accepted. A null value yields an
// empty map.
func StringMap(val cty.Value) (map[string]string, error) {
	out := make(map[string]string)
	if val.IsNull() || !val.IsKnown() {
		return out, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}

	for k, v := range val.AsValueMap() {
		s, err := String(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// String converts a primitive value to its string form.
func String(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	if !v.Type().IsPrimitiveType() {
		return "", fmt.Errorf("expected a primitive value, got %s", v.Type().FriendlyName())
	}
	sv, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	return sv.AsString(), nil
}

// ObjectValue builds a cty object from string pairs. It is the inverse of
// StringMap for string-only inputs.
func ObjectValue(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		attrs[k] = cty.StringVal(m[k])
	}
	return cty.ObjectVal(attrs)
}
