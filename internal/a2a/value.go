package a2a

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind tags the shape held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a JSON-shaped structured value: null, bool, number, string,
// ordered list or ordered map. The zero Value is null.
//
// Integer numbers keep their decimal text, so integers beyond 2^53 survive
// a JSON round trip unchanged. AsNumber still reports the nearest float64.
type Value struct {
	kind Kind
	b    bool
	n    float64
	num  string
	s    string
	list []Value
	m    *Map
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(i int) Value { return Int64(int64(i)) }
func Int64(i int64) Value {
	return Value{kind: KindNumber, n: float64(i), num: strconv.FormatInt(i, 10)}
}
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(items ...Value) Value {
	return Value{kind: KindList, list: slices.Clone(items)}
}

// Strings builds a list value of strings.
func Strings(items ...string) Value {
	out := make([]Value, len(items))
	for i, s := range items {
		out[i] = String(s)
	}
	return Value{kind: KindList, list: out}
}

// MapOf wraps m as a map value. A nil map becomes an empty one.
func MapOf(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt reports the number as an int64 when it is an integer that fits.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.num != "" {
		i, err := strconv.ParseInt(v.num, 10, 64)
		return i, err == nil
	}
	if v.n != math.Trunc(v.n) || math.Abs(v.n) > 1<<53 {
		return 0, false
	}
	return int64(v.n), true
}
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// Text renders strings verbatim and everything else as compact JSON.
func (v Value) Text() string {
	if v.kind == KindString {
		return v.s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(data)
}

// Equal reports deep equality. Map key order is not significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		if v.num != "" && o.num != "" {
			return v.num == o.num
		}
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindNumber:
		if v.num != "" {
			return []byte(v.num), nil
		}
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("unsupported number %v", v.n)
		}
		return strconv.AppendFloat(nil, v.n, 'f', -1, 64), nil
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		return v.m.MarshalJSON()
	}
	return nil, fmt.Errorf("unknown value kind %s", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return parseNumber(t.String())
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindList, list: items}, nil
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				m.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return MapOf(m), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected json token %v", tok)
}

func parseNumber(text string) (Value, error) {
	f, err := strconv.ParseFloat(text, 64)
	if strings.ContainsAny(text, ".eE") {
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", text, err)
		}
		return Number(f), nil
	}
	// Integers too large for a float64 still keep their exact text.
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Value{}, fmt.Errorf("parse number %q: %w", text, err)
	}
	if text == "-0" {
		text = "0"
	}
	return Value{kind: KindNumber, n: f, num: text}, nil
}

// Map is an insertion-ordered string-keyed map of Values. A nil *Map reads
// as empty.
type Map struct {
	keys []string
	vals map[string]Value
}

func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set stores v under key, keeping the original position of an existing key.
func (m *Map) Set(key string, v Value) *Map {
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
	return m
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// GetString returns the string stored under key, or "".
func (m *Map) GetString(key string) string {
	v, _ := m.Get(key)
	s, _ := v.AsString()
	return s
}

// GetMap returns the map stored under key, or nil.
func (m *Map) GetMap(key string) *Map {
	v, _ := m.Get(key)
	sub, _ := v.AsMap()
	return sub
}

// Lookup walks nested maps along path.
func (m *Map) Lookup(path ...string) (Value, bool) {
	cur := MapOf(m)
	for _, key := range path {
		sub, ok := cur.AsMap()
		if !ok {
			return Value{}, false
		}
		if cur, ok = sub.Get(key); !ok {
			return Value{}, false
		}
	}
	return cur, true
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// All iterates entries in insertion order.
func (m *Map) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.vals[k]) {
				return
			}
		}
	}
}

// Clone returns a shallow copy. Cloning nil yields an empty map.
func (m *Map) Clone() *Map {
	out := NewMap()
	for k, v := range m.All() {
		out.Set(k, v)
	}
	return out
}

// Merge returns a new map holding m's entries overwritten by other's. Neither
// input is modified.
func (m *Map) Merge(other *Map) *Map {
	out := m.Clone()
	for k, v := range other.All() {
		out.Set(k, v)
	}
	return out
}

func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for k, v := range m.All() {
		ov, ok := o.Get(k)
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	i := 0
	for k, v := range m.All() {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		data, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Map) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	switch v.kind {
	case KindNull:
		*m = Map{vals: make(map[string]Value)}
	case KindMap:
		*m = *v.m
	default:
		return fmt.Errorf("expected object, got %s", v.kind)
	}
	return nil
}
