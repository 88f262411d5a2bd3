// Package keycase converts payload tree keys between the gateway's wire
// convention (camelCase) and the native convention used by callers
// (snake_case).
//
// Both directions walk the whole tree: maps get every key rewritten and every
// value converted, slices are converted element-wise and scalars are returned
// as they are. The input is never modified; new containers are returned.
package keycase

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	acronymBoundary = regexp.MustCompile(`([A-Z\d]+)([A-Z][a-z])`)
	wordBoundary    = regexp.MustCompile(`([a-z\d])([A-Z])`)
	underscoreRun   = regexp.MustCompile(`_([a-z\d]*)`)
)

// Snake converts a wire key to native form: "reasonCode" -> "reason_code",
// "PANNumber" -> "pan_number".
func Snake(key string) string {
	s := acronymBoundary.ReplaceAllString(key, "${1}_${2}")
	s = wordBoundary.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(s)
}

// Camel converts a native key to wire form: "reason_code" -> "reasonCode".
// Leading underscores are kept as they are.
func Camel(key string) string {
	rest := strings.TrimLeft(key, "_")
	prefix := key[:len(key)-len(rest)]
	return prefix + underscoreRun.ReplaceAllStringFunc(rest, func(m string) string {
		run := m[1:]
		if run == "" {
			return ""
		}
		return strings.ToUpper(run[:1]) + run[1:]
	})
}

// ToWire returns a copy of tree with every map key converted by Camel.
func ToWire(tree any) any {
	return convert(tree, Camel)
}

// ToNative returns a copy of tree with every map key converted by Snake.
func ToNative(tree any) any {
	return convert(tree, Snake)
}

func convert(v any, fn func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fn(k)] = convert(val, fn)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fn(fmt.Sprint(k))] = convert(val, fn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = convert(item, fn)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = convert(item, fn)
		}
		return out
	default:
		return v
	}
}
