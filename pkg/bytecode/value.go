package bytecode

import (
	"math"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindString
	KindBoolean
	KindFunction
	KindList
	KindDictionary
)

var kindNames = map[Kind]string{
	KindNull:       "Null",
	KindInteger:    "Integer",
	KindFloat:      "Float",
	KindString:     "String",
	KindBoolean:    "Boolean",
	KindFunction:   "Function",
	KindList:       "List",
	KindDictionary: "Dictionary",
}

// String returns the Runa type name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a tagged union of every runtime value. Values are copied at stack
// boundaries; collection operations that modify a list or dictionary build a
// new backing slice, so two stack cells never alias mutable storage.
type Value struct {
	Kind  Kind      `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
	Bool  bool      `cbor:"5,keyasint,omitempty"`
	Fn    *Function `cbor:"6,keyasint,omitempty"`
	Items []Value   `cbor:"7,keyasint,omitempty"`
	Pairs []Pair    `cbor:"8,keyasint,omitempty"`
}

// Pair is one dictionary entry. Dictionaries keep insertion order.
type Pair struct {
	_     struct{} `cbor:",toarray"`
	Key   Value
	Value Value
}

// NativeFn implements a builtin function.
type NativeFn func(args []Value) (Value, error)

// Function is a callable unit. User-defined functions own an independently
// compiled Chunk; natives carry a Go implementation instead.
type Function struct {
	Name   string   `cbor:"1,keyasint"`
	Arity  int      `cbor:"2,keyasint"`
	Chunk  *Chunk   `cbor:"3,keyasint,omitempty"`
	Native NativeFn `cbor:"-"`
}

// IsNative reports whether the function is implemented in Go.
func (f *Function) IsNative() bool {
	return f.Native != nil
}

// Null is the null value.
var Null = Value{Kind: KindNull}

// IntegerValue returns an Integer value.
func IntegerValue(n int64) Value { return Value{Kind: KindInteger, Int: n} }

// FloatValue returns a Float value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue returns a String value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue returns a Boolean value.
func BoolValue(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// FunctionValue wraps a function.
func FunctionValue(fn *Function) Value { return Value{Kind: KindFunction, Fn: fn} }

// ListValue returns a List value that takes ownership of items.
func ListValue(items []Value) Value { return Value{Kind: KindList, Items: items} }

// DictValue returns a Dictionary value that takes ownership of pairs.
func DictValue(pairs []Pair) Value { return Value{Kind: KindDictionary, Pairs: pairs} }

// IsNumber reports whether v is an Integer or a Float.
func (v Value) IsNumber() bool {
	return v.Kind == KindInteger || v.Kind == KindFloat
}

// AsFloat returns the numeric value promoted to float64.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInteger {
		return float64(v.Int)
	}
	return v.Float
}

// TypeName returns the Runa type name of the value.
func (v Value) TypeName() string {
	return v.Kind.String()
}

// Lookup finds key in a dictionary value.
func (v Value) Lookup(key Value) (Value, bool) {
	for _, p := range v.Pairs {
		if p.Key.Equal(key) {
			return p.Value, true
		}
	}
	return Null, false
}

// Equal compares two values structurally. Integers and floats compare by
// numeric value; any other kind mismatch is unequal.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.Kind == KindInteger && o.Kind == KindInteger {
			return v.Int == o.Int
		}
		return v.AsFloat() == o.AsFloat()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == o.Str
	case KindBoolean:
		return v.Bool == o.Bool
	case KindFunction:
		return v.Fn == o.Fn
	case KindList:
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		if len(v.Pairs) != len(o.Pairs) {
			return false
		}
		for _, p := range v.Pairs {
			other, ok := o.Lookup(p.Key)
			if !ok || !p.Value.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value the way Print displays it.
func (v Value) String() string {
	var b strings.Builder
	v.writeTo(&b)
	return b.String()
}

func (v Value) writeTo(b *strings.Builder) {
	switch v.Kind {
	case KindNull:
		b.WriteString("null")
	case KindInteger:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case KindFloat:
		b.WriteString(formatFloat(v.Float))
	case KindString:
		b.WriteString(v.Str)
	case KindBoolean:
		b.WriteString(strconv.FormatBool(v.Bool))
	case KindFunction:
		name := "<anonymous>"
		if v.Fn != nil {
			name = v.Fn.Name
		}
		b.WriteString("<function ")
		b.WriteString(name)
		b.WriteString(">")
	case KindList:
		b.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			item.writeTo(b)
		}
		b.WriteByte(']')
	case KindDictionary:
		b.WriteByte('{')
		for i, p := range v.Pairs {
			if i > 0 {
				b.WriteString(", ")
			}
			p.Key.writeTo(b)
			b.WriteString(": ")
			p.Value.writeTo(b)
		}
		b.WriteByte('}')
	default:
		b.WriteString(v.Kind.String())
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) >= 1e21 {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
