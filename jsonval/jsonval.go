// Package jsonval wraps dynamically typed JSON payloads with explicit,
// path-aware accessors. Upstream API responses are loosely shaped; rather
// than propagating silent zero values through implicit type assertions,
// every accessor returns a ShapeError naming the path, the expected shape,
// and what was actually found.
package jsonval

import (
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Value holds a decoded JSON value (the result of json.Unmarshal into
	// any): nil, bool, float64, string, []any, or map[string]any. The zero
	// Value represents JSON null.
	Value struct {
		v    any
		path []string
	}

	// ShapeError reports a missing or mismatched field in a dynamic payload.
	ShapeError struct {
		// Path is the dotted path to the offending field.
		Path string
		// Want describes the expected JSON shape (e.g., "string", "object").
		Want string
		// Got describes what was found ("missing", "null", "number", ...).
		Got string
	}
)

// Error implements the error interface.
func (e *ShapeError) Error() string {
	p := e.Path
	if p == "" {
		p = "$"
	}
	return fmt.Sprintf("json shape: %s: want %s, got %s", p, e.Want, e.Got)
}

// Decode parses raw JSON bytes into a Value.
func Decode(data []byte) (Value, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("decode json: %w", err)
	}
	return Value{v: v}, nil
}

// Of wraps an already-decoded JSON value.
func Of(v any) Value {
	if val, ok := v.(Value); ok {
		return val
	}
	return Value{v: v}
}

// Raw returns the underlying decoded value.
func (v Value) Raw() any { return v.v }

// IsNull reports whether the value is JSON null (or missing).
func (v Value) IsNull() bool { return v.v == nil }

// MarshalJSON encodes the wrapped value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes into the wrapped value.
func (v *Value) UnmarshalJSON(data []byte) error {
	v.path = nil
	return json.Unmarshal(data, &v.v)
}

// Get descends through nested objects following the given keys. A missing
// key or a non-object intermediate yields a ShapeError.
func (v Value) Get(keys ...string) (Value, error) {
	cur := v
	for _, k := range keys {
		obj, ok := cur.v.(map[string]any)
		if !ok {
			return Value{}, cur.shapeErr("object")
		}
		child, ok := obj[k]
		if !ok {
			return Value{}, &ShapeError{Path: joinPath(cur.path, k), Want: "present", Got: "missing"}
		}
		cur = Value{v: child, path: appendPath(cur.path, k)}
	}
	return cur, nil
}

// Lookup is Get without the error: it returns the zero Value and false when
// any key along the path is absent or an intermediate is not an object.
func (v Value) Lookup(keys ...string) (Value, bool) {
	out, err := v.Get(keys...)
	if err != nil {
		return Value{}, false
	}
	return out, true
}

// String returns the value as a string.
func (v Value) String() (string, error) {
	s, ok := v.v.(string)
	if !ok {
		return "", v.shapeErr("string")
	}
	return s, nil
}

// StringOr returns the value as a string, or def when it is not one.
func (v Value) StringOr(def string) string {
	if s, ok := v.v.(string); ok {
		return s
	}
	return def
}

// Int returns the value as an int. JSON numbers decode as float64; values
// with a fractional part are rejected.
func (v Value) Int() (int, error) {
	f, ok := v.v.(float64)
	if !ok {
		return 0, v.shapeErr("number")
	}
	n := int(f)
	if float64(n) != f {
		return 0, v.shapeErr("integer")
	}
	return n, nil
}

// Float returns the value as a float64.
func (v Value) Float() (float64, error) {
	f, ok := v.v.(float64)
	if !ok {
		return 0, v.shapeErr("number")
	}
	return f, nil
}

// Bool returns the value as a bool.
func (v Value) Bool() (bool, error) {
	b, ok := v.v.(bool)
	if !ok {
		return false, v.shapeErr("boolean")
	}
	return b, nil
}

// Array returns the value as a slice of element Values.
func (v Value) Array() ([]Value, error) {
	arr, ok := v.v.([]any)
	if !ok {
		return nil, v.shapeErr("array")
	}
	out := make([]Value, len(arr))
	for i, el := range arr {
		out[i] = Value{v: el, path: appendPath(v.path, fmt.Sprintf("[%d]", i))}
	}
	return out, nil
}

// Map returns the value as a map of member Values.
func (v Value) Map() (map[string]Value, error) {
	obj, ok := v.v.(map[string]any)
	if !ok {
		return nil, v.shapeErr("object")
	}
	out := make(map[string]Value, len(obj))
	for k, el := range obj {
		out[k] = Value{v: el, path: appendPath(v.path, k)}
	}
	return out, nil
}

func (v Value) shapeErr(want string) *ShapeError {
	return &ShapeError{Path: strings.Join(v.path, "."), Want: want, Got: typeName(v.v)}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func appendPath(base []string, k string) []string {
	out := make([]string, 0, len(base)+1)
	out = append(out, base...)
	return append(out, k)
}

func joinPath(base []string, k string) string {
	return strings.Join(appendPath(base, k), ".")
}
