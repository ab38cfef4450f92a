package bytecode

import (
	"math"
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{IntegerValue(-12), "-12"},
		{FloatValue(3), "3"},
		{FloatValue(0.1), "0.1"},
		{FloatValue(1e21), "1e+21"},
		{FloatValue(math.Inf(1)), "+Inf"},
		{StringValue("plain"), "plain"},
		{BoolValue(false), "false"},
		{FunctionValue(&Function{Name: "f"}), "<function f>"},
		{ListValue(nil), "[]"},
		{ListValue([]Value{IntegerValue(1), ListValue([]Value{StringValue("x")})}), "[1, [x]]"},
		{DictValue([]Pair{{Key: StringValue("a"), Value: Null}}), "{a: null}"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestValueEqual(t *testing.T) {
	fn := &Function{Name: "f"}
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int float", IntegerValue(2), FloatValue(2), true},
		{"int string", IntegerValue(2), StringValue("2"), false},
		{"null null", Null, Null, true},
		{"same function", FunctionValue(fn), FunctionValue(fn), true},
		{"other function", FunctionValue(fn), FunctionValue(&Function{Name: "f"}), false},
		{"list length", ListValue([]Value{Null}), ListValue(nil), false},
		{
			"dict order ignored",
			DictValue([]Pair{{Key: StringValue("a"), Value: IntegerValue(1)}, {Key: StringValue("b"), Value: IntegerValue(2)}}),
			DictValue([]Pair{{Key: StringValue("b"), Value: IntegerValue(2)}, {Key: StringValue("a"), Value: IntegerValue(1)}}),
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueTypeName(t *testing.T) {
	if got := DictValue(nil).TypeName(); got != "Dictionary" {
		t.Errorf("TypeName() = %q, want Dictionary", got)
	}
	if got := Kind(99).String(); got != "Kind(99)" {
		t.Errorf("Kind(99).String() = %q", got)
	}
}
