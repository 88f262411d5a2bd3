// Package payload builds request payloads from caller input.
//
// Callers pass flat, snake_case trees that may use shortcut aliases
// ("amount") in place of deep paths ("transaction.money.amount.fixed").
// Build fills in per-client defaults that the operation allows and then
// expands the aliases. Values the caller supplied always win.
package payload

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/r9s-ai/paypoint-blue/pkg/jsonutil"
)

// CallbackFormat is set next to callback and notification URLs expanded from
// shortcuts.
const CallbackFormat = "REST_JSON"

// ErrPathConflict is returned when a shortcut path runs through a value that
// is not an object.
var ErrPathConflict = errors.New("shortcut path conflicts with existing value")

// Shortcuts maps an alias key to a dot separated path into the payload.
type Shortcuts map[string]string

// Defaults maps a top-level key to a literal value or to a template string
// with %field% placeholders.
type Defaults map[string]any

var placeholder = regexp.MustCompile(`%(\w+)%`)

// Expand replaces every top-level alias found in sc with a nested assignment.
// A value already present at the target path is kept. Aliases ending in
// _callback or _notification also get a "format" sibling. On error p is left
// exactly as it was passed in.
func Expand(p map[string]any, sc Shortcuts) (map[string]any, error) {
	if p == nil {
		p = map[string]any{}
	}
	if len(sc) == 0 {
		return p, nil
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		if _, ok := sc[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return p, nil
	}
	sort.Strings(keys)

	work, _ := jsonutil.Clone(p).(map[string]any)
	for _, key := range keys {
		segments := splitPath(sc[key])
		if len(segments) == 0 {
			continue
		}
		parent, err := walk(work, segments[:len(segments)-1], key)
		if err != nil {
			return p, err
		}
		value := work[key]
		delete(work, key)

		leaf := segments[len(segments)-1]
		if _, exists := parent[leaf]; !exists {
			parent[leaf] = value
		}
		if isCallbackKey(key) {
			if _, exists := parent["format"]; !exists {
				parent["format"] = CallbackFormat
			}
		}
	}
	for k := range p {
		delete(p, k)
	}
	for k, v := range work {
		p[k] = v
	}
	return p, nil
}

// walk descends from root along segments, creating objects as needed.
// Nothing is created when a conflict is found.
func walk(root map[string]any, segments []string, key string) (map[string]any, error) {
	cur := root
	for i, seg := range segments {
		next, ok := cur[seg]
		if !ok {
			for _, rest := range segments[i:] {
				m := map[string]any{}
				cur[rest] = m
				cur = m
			}
			return cur, nil
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %q", ErrPathConflict, key, strings.Join(segments[:i+1], "."))
		}
		cur = m
	}
	return cur, nil
}

func isCallbackKey(key string) bool {
	return strings.HasSuffix(key, "_callback") || strings.HasSuffix(key, "_notification")
}

func splitPath(path string) []string {
	parts := strings.Split(strings.TrimSpace(path), ".")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ApplyDefaults sets every default whose key is listed in eligible and is
// absent from the top level of p. Template placeholders are resolved against
// the fields p had before any default was applied, so one default never sees
// another. A placeholder whose field is missing, null or false stays literal.
func ApplyDefaults(p map[string]any, eligible []string, d Defaults) map[string]any {
	if p == nil {
		p = map[string]any{}
	}
	if len(d) == 0 || len(eligible) == 0 {
		return p
	}
	snapshot := make(map[string]any, len(p))
	for k, v := range p {
		snapshot[k] = v
	}
	for _, key := range eligible {
		val, ok := d[key]
		if !ok {
			continue
		}
		if _, present := snapshot[key]; present {
			continue
		}
		p[key] = interpolate(val, snapshot)
	}
	return p
}

func interpolate(val any, fields map[string]any) any {
	s, ok := val.(string)
	if !ok {
		return jsonutil.Clone(val)
	}
	return placeholder.ReplaceAllStringFunc(s, func(token string) string {
		name := token[1 : len(token)-1]
		v := fields[name]
		if b, isBool := v.(bool); isBool && !b {
			return token
		}
		if out, ok := jsonutil.Format(v); ok {
			return out
		}
		return token
	})
}

// Builder composes defaults and shortcut expansion for one product.
// It is safe for concurrent use as long as its tables are not modified.
type Builder struct {
	Shortcuts Shortcuts
	Defaults  Defaults
}

// Build returns a new payload built from p. The caller's map is not modified.
func (b Builder) Build(p map[string]any, eligible ...string) (map[string]any, error) {
	out, _ := jsonutil.Clone(p).(map[string]any)
	out = ApplyDefaults(out, eligible, b.Defaults)
	return Expand(out, b.Shortcuts)
}

// CloneDefaults copies d so later changes by the caller are not observed.
func CloneDefaults(d Defaults) Defaults {
	if d == nil {
		return nil
	}
	out := make(Defaults, len(d))
	for k, v := range d {
		out[k] = jsonutil.Clone(v)
	}
	return out
}
