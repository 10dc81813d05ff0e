package lms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind is the JSON kind held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Value is an untyped JSON value. Exactly one accessor matches its Kind;
// callers switch on Kind and never get implicit conversions.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a JSON number literal.
func Number(n json.Number) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a list of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a map of values.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the numeric payload as its JSON literal.
func (v Value) Number() (json.Number, bool) { return v.n, v.kind == KindNumber }

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Array returns the array payload.
func (v Value) Array() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Object returns the object payload.
func (v Value) Object() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// UnmarshalJSON decodes any JSON document, keeping numbers as literals.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// MarshalJSON encodes the value back to JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Interface converts the value into plain Go types.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Decode re-encodes the value and unmarshals it into target.
func (v Value) Decode(target any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, target)
}

// String renders a short description for error messages.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindNumber:
		return v.n.String()
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.arr))
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "object{" + strings.Join(keys, ",") + "}"
	default:
		return "null"
	}
}

func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return Number(x), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported json type %T", raw)
	}
}
