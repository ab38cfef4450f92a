package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Builtin describes a native function visible to every program. Params and
// Returns are Runa type names so the semantic analyzer can declare the
// builtin before analysis starts.
type Builtin struct {
	Name    string
	Params  []string
	Returns string
	Fn      NativeFn
}

// Builtins lists the natives registered by NewVM, in declaration order.
var Builtins = []Builtin{
	{Name: "square root", Params: []string{"Any"}, Returns: "Float", Fn: nativeSquareRoot},
	{Name: "absolute", Params: []string{"Any"}, Returns: "Any", Fn: nativeAbsolute},
	{Name: "to integer", Params: []string{"Any"}, Returns: "Integer", Fn: nativeToInteger},
	{Name: "to float", Params: []string{"Any"}, Returns: "Float", Fn: nativeToFloat},
	{Name: "to string", Params: []string{"Any"}, Returns: "String", Fn: nativeToString},
}

// RegisterBuiltins defines every builtin as a global on vm.
func RegisterBuiltins(vm *VM) {
	for _, b := range Builtins {
		vm.DefineNative(b.Name, len(b.Params), b.Fn)
	}
}

func nativeSquareRoot(args []Value) (Value, error) {
	v := args[0]
	if !v.IsNumber() {
		return Null, fmt.Errorf("expected a number, got %s", v.TypeName())
	}
	if v.AsFloat() < 0 {
		return Null, fmt.Errorf("square root of negative number %s", v)
	}
	return FloatValue(math.Sqrt(v.AsFloat())), nil
}

func nativeAbsolute(args []Value) (Value, error) {
	v := args[0]
	switch v.Kind {
	case KindInteger:
		if v.Int < 0 {
			return IntegerValue(-v.Int), nil
		}
		return v, nil
	case KindFloat:
		return FloatValue(math.Abs(v.Float)), nil
	}
	return Null, fmt.Errorf("expected a number, got %s", v.TypeName())
}

func nativeToInteger(args []Value) (Value, error) {
	v := args[0]
	switch v.Kind {
	case KindInteger:
		return v, nil
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return Null, fmt.Errorf("cannot convert %s to an integer", v)
		}
		return IntegerValue(int64(v.Float)), nil
	case KindBoolean:
		if v.Bool {
			return IntegerValue(1), nil
		}
		return IntegerValue(0), nil
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return Null, fmt.Errorf("cannot convert %q to an integer", v.Str)
		}
		return IntegerValue(n), nil
	}
	return Null, fmt.Errorf("cannot convert %s to an integer", v.TypeName())
}

func nativeToFloat(args []Value) (Value, error) {
	v := args[0]
	switch v.Kind {
	case KindInteger, KindFloat:
		return FloatValue(v.AsFloat()), nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return Null, fmt.Errorf("cannot convert %q to a float", v.Str)
		}
		return FloatValue(f), nil
	}
	return Null, fmt.Errorf("cannot convert %s to a float", v.TypeName())
}

func nativeToString(args []Value) (Value, error) {
	return StringValue(args[0].String()), nil
}
