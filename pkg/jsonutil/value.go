package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CoerceString converts a value to string when it is already a string.
func CoerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}

// Format renders a scalar tree value the way it would appear in a template.
// It returns false for nil and for containers.
func Format(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

// Clone returns a deep copy of a decoded tree. Containers other than
// map[string]any and []any are returned as they are.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// GetByPath reads a value from a decoded tree. Paths are dot separated and
// may index slices: "transaction.related[1].id". A leading "$." is ignored.
func GetByPath(root any, path string) (any, bool) {
	p := strings.TrimPrefix(strings.TrimSpace(path), "$.")
	if p == "" {
		return root, true
	}
	cur := root
	for _, part := range strings.Split(p, ".") {
		name, idx, hasIdx, ok := splitIndex(strings.TrimSpace(part))
		if !ok {
			return nil, false
		}
		if name != "" {
			m, isMap := cur.(map[string]any)
			if !isMap {
				return nil, false
			}
			if cur, ok = m[name]; !ok {
				return nil, false
			}
		}
		if !hasIdx {
			continue
		}
		arr, isArr := cur.([]any)
		if !isArr || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		cur = arr[idx]
	}
	return cur, true
}

// splitIndex parses "name" or "name[n]". ok is false for an empty or
// malformed segment.
func splitIndex(s string) (name string, idx int, hasIdx bool, ok bool) {
	if s == "" {
		return "", 0, false, false
	}
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return s, 0, false, true
	}
	if !strings.HasSuffix(s, "]") {
		return "", 0, false, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[open+1 : len(s)-1]))
	if err != nil {
		return "", 0, false, false
	}
	return s[:open], n, true, true
}
