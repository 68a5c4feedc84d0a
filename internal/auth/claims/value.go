// Package claims models decoded token payloads as a small tagged union so
// that nested lookups never depend on the concrete Go types a JSON decoder
// happened to produce.
package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

type Kind int

const (
	Null Kind = iota
	Scalar
	Sequence
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return "null"
	}
}

// Value is an immutable JSON-like value. The zero Value is Null.
type Value struct {
	kind   Kind
	scalar any // string, bool or json.Number
	seq    []Value
	m      map[string]Value
}

// From converts the output of encoding/json (or a jwt.MapClaims) into a Value.
// Unsupported Go types become their fmt representation.
func From(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case string:
		return Value{kind: Scalar, scalar: x}
	case bool:
		return Value{kind: Scalar, scalar: x}
	case json.Number:
		return Value{kind: Scalar, scalar: x}
	case float64:
		return Value{kind: Scalar, scalar: json.Number(strconv.FormatFloat(x, 'f', -1, 64))}
	case int:
		return Value{kind: Scalar, scalar: json.Number(strconv.Itoa(x))}
	case int64:
		return Value{kind: Scalar, scalar: json.Number(strconv.FormatInt(x, 10))}
	case []any:
		seq := make([]Value, len(x))
		for i, e := range x {
			seq[i] = From(e)
		}
		return Value{kind: Sequence, seq: seq}
	case []string:
		seq := make([]Value, len(x))
		for i, e := range x {
			seq[i] = From(e)
		}
		return Value{kind: Sequence, seq: seq}
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = From(e)
		}
		return Value{kind: Mapping, m: m}
	default:
		return Value{kind: Scalar, scalar: fmt.Sprint(x)}
	}
}

// Object builds a Mapping from key/value pairs.
func Object(m map[string]any) Value {
	if m == nil {
		return Value{kind: Mapping, m: map[string]Value{}}
	}
	return From(m)
}

// Parse decodes raw JSON into a Value, keeping numbers exact.
func Parse(raw []byte) (Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Value{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Value{}, fmt.Errorf("claims: decode: %w", err)
	}
	return From(v), nil
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == Null }

// Get returns the member of a Mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Mapping {
		return Value{}, false
	}
	e, ok := v.m[key]
	return e, ok
}

// Lookup walks a path of keys through nested mappings. A missing step at
// any depth reports false.
func (v Value) Lookup(path ...string) (Value, bool) {
	cur := v
	for _, key := range path {
		next, ok := cur.Get(key)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Text returns the scalar rendered as a string.
func (v Value) Text() (string, bool) {
	if v.kind != Scalar {
		return "", false
	}
	switch s := v.scalar.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case json.Number:
		return s.String(), true
	default:
		return fmt.Sprint(s), true
	}
}

// String returns the scalar text or "" for anything else.
func (v Value) String() string {
	s, _ := v.Text()
	return s
}

// Int returns the scalar as an integer when it is an integral JSON number.
func (v Value) Int() (int64, bool) {
	if v.kind != Scalar {
		return 0, false
	}
	n, ok := v.scalar.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

// Strings flattens the value into a list of scalar texts: a scalar yields
// itself, a sequence its scalar elements, a mapping its scalar members in
// key order. Null yields nothing.
func (v Value) Strings() []string {
	switch v.kind {
	case Scalar:
		return []string{v.String()}
	case Sequence:
		out := make([]string, 0, len(v.seq))
		for _, e := range v.seq {
			if s, ok := e.Text(); ok {
				out = append(out, s)
			}
		}
		return out
	case Mapping:
		keys := v.Keys()
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			if s, ok := v.m[k].Text(); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Keys returns the sorted keys of a Mapping.
func (v Value) Keys() []string {
	if v.kind != Mapping {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a Mapping holding the members of v overlaid by other.
// Non-mapping operands contribute nothing.
func (v Value) Merge(other Value) Value {
	out := make(map[string]Value, len(v.m)+len(other.m))
	if v.kind == Mapping {
		for k, e := range v.m {
			out[k] = e
		}
	}
	if other.kind == Mapping {
		for k, e := range other.m {
			out[k] = e
		}
	}
	return Value{kind: Mapping, m: out}
}

// Interface converts the value back into plain encoding/json shapes.
func (v Value) Interface() any {
	switch v.kind {
	case Scalar:
		return v.scalar
	case Sequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Interface()
		}
		return out
	case Mapping:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(raw []byte) error {
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
