// Package setting models the configuration tree consumed by the external
// inference engine and encodes it deterministically.
package setting

import (
	"sort"
)

// Kind tags the variant held by a Value
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is one node of a configuration tree. Exactly the field matching Kind is meaningful.
type Value struct {
	kind Kind
	str  string
	b    bool
	i    int64
	f    float64
	list []Value
	m    Map
}

// Map is a setting group. Keys are always encoded in sorted order.
type Map map[string]Value

// S returns a string value
func S(s string) Value { return Value{kind: KindString, str: s} }

// B returns a bool value
func B(b bool) Value { return Value{kind: KindBool, b: b} }

// I returns an int value
func I(i int) Value { return Value{kind: KindInt, i: int64(i)} }

// F returns a float value
func F(f float64) Value { return Value{kind: KindFloat, f: f} }

// L returns a list value
func L(items ...Value) Value { return Value{kind: KindList, list: items} }

// M wraps a map
func M(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{kind: KindMap, m: m}
}

// Floats returns a list of float values
func Floats(fs []float64) Value {
	items := make([]Value, len(fs))
	for i, f := range fs {
		items[i] = F(f)
	}
	return L(items...)
}

// Strings returns a list of string values
func Strings(ss []string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = S(s)
	}
	return L(items...)
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the string content and whether v is a string
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Float returns the float content and whether v is a float
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// List returns the items and whether v is a list
func (v Value) List() ([]Value, bool) { return v.list, v.kind == KindList }

// Map returns the setting group and whether v is a map
func (v Value) Map() (Map, bool) { return v.m, v.kind == KindMap }

// Append returns a list value with item appended. Non-list values are returned unchanged.
func (v Value) Append(item Value) Value {
	if v.kind != KindList {
		return v
	}
	items := make([]Value, 0, len(v.list)+1)
	items = append(items, v.list...)
	return L(append(items, item)...)
}

// Set stores value under key
func (m Map) Set(key string, value Value) Map {
	m[key] = value
	return m
}

// Get returns the value under key
func (m Map) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// Keys returns the keys in sorted order
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
