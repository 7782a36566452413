package config

import (
	"fmt"
	"runtime"
	"sort"
)

// ValueKind discriminates the shapes a configuration value may take.
type ValueKind int

// Supported value shapes.
const (
	KindSingle ValueKind = iota
	KindList
	KindByOS
)

// Value is a tagged union over the shapes a raw config entry may take: a
// single string, a list of strings, or a per-OS map. The shape is resolved
// once at load time; consumers never branch on the raw YAML type again.
type Value struct {
	kind   ValueKind
	single string
	list   []string
	byOS   map[string]string
}

// Single wraps a plain string value.
func Single(s string) Value { return Value{kind: KindSingle, single: s} }

// List wraps an ordered list value.
func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string(nil), items...)}
}

// ByOS wraps a per-operating-system value keyed by GOOS identifiers.
func ByOS(m map[string]string) Value {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindByOS, byOS: cp}
}

// ParseValue classifies a raw decoded YAML/JSON value into a Value. Strings,
// []any of strings, and map[string]any of strings are accepted; anything else
// is a configuration contract error.
func ParseValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Single(""), nil
	case string:
		return Single(v), nil
	case []any:
		items := make([]string, 0, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return Value{}, fmt.Errorf("list value element %d: want string, got %T", i, elem)
			}
			items = append(items, s)
		}
		return List(items...), nil
	case []string:
		return List(v...), nil
	case map[string]any:
		m := make(map[string]string, len(v))
		for k, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return Value{}, fmt.Errorf("per-os value %q: want string, got %T", k, elem)
			}
			m[k] = s
		}
		return ByOS(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported config value type %T", raw)
	}
}

// Kind returns the shape tag.
func (v Value) Kind() ValueKind { return v.kind }

// Resolve flattens the value for the given GOOS identifier. A missing OS
// entry is an error rather than an empty string so typos surface early.
func (v Value) Resolve(goos string) (string, error) {
	switch v.kind {
	case KindSingle:
		return v.single, nil
	case KindList:
		if len(v.list) == 0 {
			return "", nil
		}
		return v.list[0], nil
	case KindByOS:
		s, ok := v.byOS[goos]
		if !ok {
			keys := make([]string, 0, len(v.byOS))
			for k := range v.byOS {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return "", fmt.Errorf("no value for os %q (have %v)", goos, keys)
		}
		return s, nil
	default:
		return "", fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// ResolveHost flattens the value for the host operating system.
func (v Value) ResolveHost() (string, error) { return v.Resolve(runtime.GOOS) }

// Strings returns every string the value can take, in stable order.
func (v Value) Strings() []string {
	switch v.kind {
	case KindSingle:
		return []string{v.single}
	case KindList:
		return append([]string(nil), v.list...)
	case KindByOS:
		keys := make([]string, 0, len(v.byOS))
		for k := range v.byOS {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, v.byOS[k])
		}
		return out
	default:
		return nil
	}
}
