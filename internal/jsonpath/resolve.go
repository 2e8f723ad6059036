package jsonpath

import (
	"fmt"
	"strings"
)

// Resolve resolves a dot-notation path against parsed JSON data.
// The path should not include the "$." prefix (pass "traits.email", not "$.traits.email").
// Returns the resolved value or an error describing where traversal stopped.
func Resolve(data map[string]interface{}, path string) (interface{}, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q: cannot traverse into non-object at %q", path, part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("path %q: field %q not found", path, part)
		}
	}
	if current == nil {
		return nil, fmt.Errorf("path %q: value is null", path)
	}
	return current, nil
}

// Lookup resolves path and reports whether it yielded a defined value.
// Missing fields, traversal through non-objects and JSON nulls are all
// reported as undefined.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	v, err := Resolve(data, path)
	if err != nil {
		return nil, false
	}
	return v, true
}

// First returns the value of the first path that yields a defined value.
func First(data map[string]interface{}, paths ...string) (interface{}, bool) {
	for _, p := range paths {
		if v, ok := Lookup(data, p); ok {
			return v, true
		}
	}
	return nil, false
}

// Explain reports, for each candidate path, why it did or did not resolve.
// Used by the dry-run CLI to show how a destination field was chosen.
func Explain(data map[string]interface{}, paths ...string) []string {
	lines := make([]string, 0, len(paths))
	for _, p := range paths {
		v, err := Resolve(data, p)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %v", p, v))
	}
	return lines
}
