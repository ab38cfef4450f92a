package compiler

import (
	"strings"
)

// TypeKind tags a RunaType.
type TypeKind int

const (
	KindInteger TypeKind = iota
	KindFloat
	KindString
	KindBoolean
	KindNull
	KindAny
	KindList
	KindDictionary
	KindClass
	KindFunction
)

// RunaType is a static type used during semantic analysis. It never reaches
// bytecode.
type RunaType struct {
	Kind   TypeKind
	Elem   *RunaType  // List element or Dictionary value type
	Key    *RunaType  // Dictionary key type
	Name   string     // Class name
	Params []RunaType // Function parameter types
	Result *RunaType  // Function return type
}

var (
	IntegerType = RunaType{Kind: KindInteger}
	FloatType   = RunaType{Kind: KindFloat}
	StringType  = RunaType{Kind: KindString}
	BooleanType = RunaType{Kind: KindBoolean}
	NullType    = RunaType{Kind: KindNull}
	AnyType     = RunaType{Kind: KindAny}
)

// ListOf returns List(elem).
func ListOf(elem RunaType) RunaType {
	return RunaType{Kind: KindList, Elem: &elem}
}

// DictOf returns Dictionary(key, value).
func DictOf(key, value RunaType) RunaType {
	return RunaType{Kind: KindDictionary, Key: &key, Elem: &value}
}

// ClassType returns the type of values built from a declared Type or Enum.
func ClassType(name string) RunaType {
	return RunaType{Kind: KindClass, Name: name}
}

// FunctionType returns the type of a process.
func FunctionType(params []RunaType, result RunaType) RunaType {
	return RunaType{Kind: KindFunction, Params: params, Result: &result}
}

// TypeFromName maps a builtin type name (case-insensitive) to its type.
// Unknown names are user-declared classes.
func TypeFromName(name string) RunaType {
	switch strings.ToLower(name) {
	case "integer", "int", "number":
		return IntegerType
	case "float", "decimal":
		return FloatType
	case "string", "text":
		return StringType
	case "boolean", "bool":
		return BooleanType
	case "null", "nothing":
		return NullType
	case "any":
		return AnyType
	case "list", "array":
		return ListOf(AnyType)
	case "dictionary":
		return DictOf(AnyType, AnyType)
	}
	return ClassType(name)
}

// IsNumeric reports whether t is Integer or Float.
func (t RunaType) IsNumeric() bool {
	return t.Kind == KindInteger || t.Kind == KindFloat
}

// IsAny reports whether t is the dynamic type.
func (t RunaType) IsAny() bool {
	return t.Kind == KindAny
}

// ElemType returns the element type of a List or the value type of a
// Dictionary, or Any.
func (t RunaType) ElemType() RunaType {
	if t.Elem == nil {
		return AnyType
	}
	return *t.Elem
}

// KeyType returns the key type of a Dictionary, or Any.
func (t RunaType) KeyType() RunaType {
	if t.Key == nil {
		return AnyType
	}
	return *t.Key
}

// ResultType returns the return type of a Function, or Any.
func (t RunaType) ResultType() RunaType {
	if t.Result == nil {
		return AnyType
	}
	return *t.Result
}

// Equal reports whether two types are identical.
func (t RunaType) Equal(o RunaType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		return t.ElemType().Equal(o.ElemType())
	case KindDictionary:
		return t.KeyType().Equal(o.KeyType()) && t.ElemType().Equal(o.ElemType())
	case KindClass:
		return t.Name == o.Name
	case KindFunction:
		if len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
		return t.ResultType().Equal(o.ResultType())
	}
	return true
}

// AcceptsValue reports whether a value of type v may be stored where t is
// expected: identical types, Any on either side, Null anywhere, Integer into
// Float, and element-wise for collections.
func (t RunaType) AcceptsValue(v RunaType) bool {
	if t.IsAny() || v.IsAny() || v.Kind == KindNull {
		return true
	}
	if t.Kind == KindFloat && v.Kind == KindInteger {
		return true
	}
	if t.Kind != v.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		return t.ElemType().AcceptsValue(v.ElemType())
	case KindDictionary:
		return t.KeyType().AcceptsValue(v.KeyType()) && t.ElemType().AcceptsValue(v.ElemType())
	}
	return t.Equal(v)
}

// CommonSupertype returns the least common supertype of a and b. It never
// fails; unrelated types unify to Any.
func CommonSupertype(a, b RunaType) RunaType {
	switch {
	case a.Equal(b):
		return a
	case a.IsAny() || b.IsAny():
		return AnyType
	case a.Kind == KindNull:
		return b
	case b.Kind == KindNull:
		return a
	case a.IsNumeric() && b.IsNumeric():
		return FloatType
	case a.Kind == KindList && b.Kind == KindList:
		return ListOf(CommonSupertype(a.ElemType(), b.ElemType()))
	case a.Kind == KindDictionary && b.Kind == KindDictionary:
		return DictOf(CommonSupertype(a.KeyType(), b.KeyType()), CommonSupertype(a.ElemType(), b.ElemType()))
	}
	return AnyType
}

// String renders the type the way it is written in source.
func (t RunaType) String() string {
	switch t.Kind {
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBoolean:
		return "Boolean"
	case KindNull:
		return "Null"
	case KindAny:
		return "Any"
	case KindList:
		return "List of " + t.ElemType().String()
	case KindDictionary:
		return "Dictionary of " + t.KeyType().String() + " to " + t.ElemType().String()
	case KindClass:
		return t.Name
	case KindFunction:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = p.String()
		}
		return "Process(" + strings.Join(params, ", ") + ") returns " + t.ResultType().String()
	}
	return "Unknown"
}
