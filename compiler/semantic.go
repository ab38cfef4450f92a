package compiler

import (
	"fmt"
	"maps"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: scope resolution and static type checking
// ---------------------------------------------------------------------------

// symbol is a name bound in a scope or in the global table.
type symbol struct {
	typ     RunaType
	defined bool // false while the initializer is being analysed
}

type scope map[string]*symbol

// funcContext tracks the process whose body is being analysed.
type funcContext struct {
	name    string
	returns []RunaType
}

// Analyzer walks a Program once, resolving names and inferring a type for
// every expression. It annotates Variable, Index and Assign nodes for the
// code generator and sets Process.Inferred.
//
// Analysis continues after an error so that editors can show every
// diagnostic; Analyze reports the first one.
type Analyzer struct {
	scopes  []scope
	globals scope               // quoted process names, enum variants, natives
	records map[string]*TypeDef // declared Type names
	enums   map[string]*EnumDef // declared Enum names
	fn      *funcContext

	errs  []*SemanticError
	types map[Expr]RunaType
}

// NewAnalyzer returns an analyzer with the builtin natives declared.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{
		scopes:  []scope{{}},
		globals: scope{},
		records: map[string]*TypeDef{},
		enums:   map[string]*EnumDef{},
		types:   map[Expr]RunaType{},
	}
	for _, b := range bytecode.Builtins {
		params := make([]RunaType, len(b.Params))
		for i, p := range b.Params {
			params[i] = TypeFromName(p)
		}
		a.globals[bytecode.GlobalKey(b.Name)] = &symbol{typ: FunctionType(params, TypeFromName(b.Returns)), defined: true}
	}
	return a
}

// Clone returns an independent copy of the analyzer's script-level state.
// Sessions use it to roll back declarations from input that failed.
func (a *Analyzer) Clone() *Analyzer {
	c := &Analyzer{
		globals: cloneScope(a.globals),
		records: maps.Clone(a.records),
		enums:   maps.Clone(a.enums),
		types:   map[Expr]RunaType{},
	}
	for _, s := range a.scopes {
		c.scopes = append(c.scopes, cloneScope(s))
	}
	return c
}

func cloneScope(s scope) scope {
	c := make(scope, len(s))
	for name, sym := range s {
		copied := *sym
		c[name] = &copied
	}
	return c
}

// Analyze checks prog and returns the first semantic error, if any.
// Declarations made at the top level stay visible to later calls.
func (a *Analyzer) Analyze(prog *Program) error {
	a.errs = nil
	for _, stmt := range prog.Statements {
		a.stmt(stmt)
	}
	if len(a.errs) > 0 {
		return a.errs[0]
	}
	return nil
}

// Diagnostics returns every error found by the last Analyze call.
func (a *Analyzer) Diagnostics() []*SemanticError {
	return a.errs
}

// TypeOf returns the inferred type of an analysed expression.
func (a *Analyzer) TypeOf(e Expr) (RunaType, bool) {
	t, ok := a.types[e]
	return t, ok
}

// LookupGlobal returns the type of a process, native or enum variant by
// its global key.
func (a *Analyzer) LookupGlobal(key string) (RunaType, bool) {
	if sym, ok := a.globals[key]; ok {
		return sym.typ, true
	}
	return RunaType{}, false
}

// Locals returns the script-level locals and their types.
func (a *Analyzer) Locals() map[string]RunaType {
	out := make(map[string]RunaType, len(a.scopes[0]))
	for name, sym := range a.scopes[0] {
		out[name] = sym.typ
	}
	return out
}

func (a *Analyzer) errorAt(node Node, format string, args ...any) {
	a.errs = append(a.errs, &SemanticError{
		Message: fmt.Sprintf(format, args...),
		Pos:     node.Span().Start,
	})
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (a *Analyzer) beginScope() {
	a.scopes = append(a.scopes, scope{})
}

func (a *Analyzer) endScope() {
	a.scopes = a.scopes[:len(a.scopes)-1]
}

// declare binds name in the innermost scope. It fails on redeclaration.
func (a *Analyzer) declare(node Node, name string, typ RunaType, defined bool) *symbol {
	current := a.scopes[len(a.scopes)-1]
	if _, exists := current[name]; exists {
		a.errorAt(node, "Variable '%s' already declared in this scope.", name)
	}
	sym := &symbol{typ: typ, defined: defined}
	current[name] = sym
	return sym
}

func (a *Analyzer) lookupLocal(name string) (*symbol, bool) {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if sym, ok := a.scopes[i][name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// resolveType checks that class names in t were declared. Enum names
// resolve to String since variants are their names at runtime.
func (a *Analyzer) resolveType(node Node, t RunaType) RunaType {
	switch t.Kind {
	case KindList:
		return ListOf(a.resolveType(node, t.ElemType()))
	case KindDictionary:
		return DictOf(a.resolveType(node, t.KeyType()), a.resolveType(node, t.ElemType()))
	case KindClass:
		if _, ok := a.enums[t.Name]; ok {
			return StringType
		}
		if _, ok := a.records[t.Name]; !ok {
			a.errorAt(node, "Unknown type '%s'.", t.Name)
			return AnyType
		}
	}
	return t
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (a *Analyzer) stmt(stmt Stmt) {
	switch s := stmt.(type) {
	case *Let:
		a.letStmt(s)
	case *ExprStmt:
		a.expr(s.Expr)
	case *Block:
		a.block(s)
	case *If:
		a.condition(s.Condition, "If condition must be a boolean.")
		a.block(s.Then)
		if s.Else != nil {
			a.stmt(s.Else)
		}
	case *While:
		a.condition(s.Condition, "While condition must be a boolean.")
		a.block(s.Body)
	case *For:
		a.forStmt(s)
	case *Return:
		a.returnStmt(s)
	case *Process:
		a.processStmt(s)
	case *Print:
		a.expr(s.Value)
	case *Annotation:
		if s.Content == "" {
			a.errorAt(s, "Annotation content cannot be empty")
		}
	case *Match:
		a.matchStmt(s)
	case *TypeDef:
		a.typeDef(s)
	case *EnumDef:
		a.enumDef(s)
	default:
		a.errorAt(stmt, "unsupported statement %T", stmt)
	}
}

func (a *Analyzer) block(b *Block) {
	a.beginScope()
	for _, s := range b.Statements {
		a.stmt(s)
	}
	a.endScope()
}

func (a *Analyzer) condition(cond Expr, msg string) {
	t := a.expr(cond)
	if t.Kind != KindBoolean && !t.IsAny() {
		a.errorAt(cond, "%s", msg)
	}
}

func (a *Analyzer) letStmt(s *Let) {
	sym := a.declare(s, s.Name, AnyType, false)
	valueType := a.expr(s.Value)
	sym.typ = valueType
	if valueType.Kind == KindNull {
		// "Let x be null" leaves x open to any later value.
		sym.typ = AnyType
	}
	if s.Declared != nil {
		declared := a.resolveType(s, *s.Declared)
		if !declared.AcceptsValue(valueType) {
			a.errorAt(s, "Cannot assign value of type %s to variable '%s' of type %s.", valueType, s.Name, declared)
		}
		sym.typ = declared
	}
	sym.defined = true
}

func (a *Analyzer) forStmt(s *For) {
	var varType RunaType
	if s.IsRange() {
		varType = IntegerType
		bounds := []Expr{s.Source, s.End}
		if s.Step != nil {
			bounds = append(bounds, s.Step)
		}
		for _, e := range bounds {
			t := a.expr(e)
			switch {
			case t.IsAny():
				varType = AnyType
			case t.Kind == KindFloat:
				if !varType.IsAny() {
					varType = FloatType
				}
			case t.Kind != KindInteger:
				a.errorAt(e, "For loop range bounds must be numbers (integer/float).")
			}
		}
	} else {
		source := a.expr(s.Source)
		switch source.Kind {
		case KindList, KindDictionary:
			varType = source.ElemType()
		case KindString:
			varType = StringType
		case KindAny:
			varType = AnyType
		default:
			a.errorAt(s.Source, "Cannot iterate over a value of type %s.", source)
			varType = AnyType
		}
	}

	a.beginScope()
	a.declare(s, s.Var, varType, true)
	a.block(s.Body)
	a.endScope()
}

func (a *Analyzer) returnStmt(s *Return) {
	t := NullType
	if s.Value != nil {
		t = a.expr(s.Value)
	}
	if a.fn == nil {
		a.errorAt(s, "Return statement is only allowed inside functions.")
		return
	}
	a.fn.returns = append(a.fn.returns, t)
}

func (a *Analyzer) processStmt(s *Process) {
	params := make([]RunaType, len(s.Params))
	for i, p := range s.Params {
		params[i] = a.resolveType(s, p.Type)
	}
	provisional := AnyType
	if s.Declared != nil {
		provisional = a.resolveType(s, *s.Declared)
	}

	key := bytecode.GlobalKey(s.Name)
	sym := a.declare(s, key, FunctionType(params, provisional), true)
	a.globals[key] = sym

	// The body sees only globals and its own parameters.
	savedScopes, savedFn := a.scopes, a.fn
	a.scopes = []scope{{}}
	a.fn = &funcContext{name: s.Name}
	for i, p := range s.Params {
		a.declare(s, p.Name, params[i], true)
	}
	for _, st := range s.Body.Statements {
		a.stmt(st)
	}
	returns := a.fn.returns
	a.scopes, a.fn = savedScopes, savedFn

	inferred := NullType
	for i, r := range returns {
		if i == 0 {
			inferred = r
		} else {
			inferred = CommonSupertype(inferred, r)
		}
	}
	if s.Declared != nil {
		for _, r := range returns {
			if !provisional.AcceptsValue(r) {
				a.errorAt(s, "Process '%s' returns %s but is declared to return %s.", s.Name, r, provisional)
				break
			}
		}
		inferred = provisional
	}
	s.Inferred = inferred
	sym.typ = FunctionType(params, inferred)
}

func (a *Analyzer) matchStmt(s *Match) {
	subject := a.expr(s.Subject)
	for _, c := range s.Cases {
		pattern := a.expr(c.Pattern)
		if !sameTypeOrAny(subject, pattern) {
			a.errorAt(c.Pattern, "Equality operations require operands of the same type.")
		}
		a.block(c.Body)
	}
	if s.Otherwise != nil {
		a.block(s.Otherwise)
	}
}

func (a *Analyzer) typeDef(s *TypeDef) {
	if a.records[s.Name] != nil || a.enums[s.Name] != nil {
		a.errorAt(s, "Type '%s' already declared.", s.Name)
	}
	a.records[s.Name] = s
	for i, f := range s.Fields {
		s.Fields[i].Type = a.resolveType(s, f.Type)
	}
}

func (a *Analyzer) enumDef(s *EnumDef) {
	if a.records[s.Name] != nil || a.enums[s.Name] != nil {
		a.errorAt(s, "Type '%s' already declared.", s.Name)
	}
	a.enums[s.Name] = s
	for _, v := range s.Variants {
		if _, exists := a.globals[v]; exists {
			a.errorAt(s, "Variable '%s' already declared in this scope.", v)
			continue
		}
		a.globals[v] = &symbol{typ: StringType, defined: true}
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *Analyzer) expr(e Expr) RunaType {
	t := a.exprType(e)
	a.types[e] = t
	return t
}

func (a *Analyzer) exprType(e Expr) RunaType {
	switch n := e.(type) {
	case *Literal:
		return literalType(n.Value)
	case *Variable:
		return a.variable(n, false)
	case *Grouping:
		return a.expr(n.Inner)
	case *Binary:
		return a.binary(n)
	case *Unary:
		return a.unary(n)
	case *Call:
		return a.call(n)
	case *ListExpr:
		elem := RunaType{}
		for i, el := range n.Elements {
			t := a.expr(el)
			if i == 0 {
				elem = t
			} else {
				elem = CommonSupertype(elem, t)
			}
		}
		if len(n.Elements) == 0 {
			elem = AnyType
		}
		return ListOf(elem)
	case *DictExpr:
		key, value := AnyType, AnyType
		for i := range n.Keys {
			kt, vt := a.expr(n.Keys[i]), a.expr(n.Values[i])
			if i == 0 {
				key, value = kt, vt
			} else {
				key, value = CommonSupertype(key, kt), CommonSupertype(value, vt)
			}
		}
		return DictOf(key, value)
	case *TypedValue:
		return a.typedValue(n)
	case *Index:
		target := a.expr(n.Target)
		index := a.expr(n.Index)
		result, keyed := a.indexType(n, target, index)
		n.Keyed = keyed
		return result
	case *Field:
		return a.fieldType(n, a.expr(n.Target), n.Name)
	case *Assign:
		return a.assign(n)
	case *InterpolatedString:
		for _, part := range n.Parts {
			if part.Expr != nil {
				a.expr(part.Expr)
			}
		}
		return StringType
	}
	a.errorAt(e, "unsupported expression %T", e)
	return AnyType
}

func literalType(v bytecode.Value) RunaType {
	switch v.Kind {
	case bytecode.KindInteger:
		return IntegerType
	case bytecode.KindFloat:
		return FloatType
	case bytecode.KindString:
		return StringType
	case bytecode.KindBoolean:
		return BooleanType
	case bytecode.KindNull:
		return NullType
	}
	return AnyType
}

// variable resolves a name: a local first, then an enum variant, then a
// process whose canonical name matches. Outside callee position a process
// name is a zero-argument call.
func (a *Analyzer) variable(v *Variable, callee bool) RunaType {
	if sym, ok := a.lookupLocal(v.Name); ok {
		if !sym.defined {
			a.errorAt(v, "Cannot read local variable '%s' in its own initializer.", v.Name)
		}
		v.Resolved = ResolveLocal
		return sym.typ
	}
	if sym, ok := a.globals[v.Name]; ok && sym.typ.Kind != KindFunction {
		v.Resolved = ResolveGlobal
		return sym.typ
	}
	if sym, ok := a.globals[bytecode.GlobalKey(CanonicalName(v.Name))]; ok {
		if callee {
			v.Resolved = ResolveFunction
			return sym.typ
		}
		v.Resolved = ResolveCall
		if n := len(sym.typ.Params); n != 0 {
			a.errorAt(v, "Function '%s' expected %d arguments but got 0.", CanonicalName(v.Name), n)
		}
		return sym.typ.ResultType()
	}
	a.errorAt(v, "Undeclared variable or function '%s'.", v.Name)
	return AnyType
}

func (a *Analyzer) call(c *Call) RunaType {
	var callee RunaType
	if v, ok := c.Callee.(*Variable); ok {
		callee = a.variable(v, true)
		a.types[v] = callee
	} else {
		callee = a.expr(c.Callee)
	}

	args := make([]RunaType, len(c.Args))
	for i, arg := range c.Args {
		args[i] = a.expr(arg)
	}

	switch callee.Kind {
	case KindAny:
		return AnyType
	case KindFunction:
	default:
		a.errorAt(c, "Can only call functions.")
		return AnyType
	}

	name := calleeName(c.Callee)
	if len(args) != len(callee.Params) {
		a.errorAt(c, "Function '%s' expected %d arguments but got %d.", name, len(callee.Params), len(args))
		return callee.ResultType()
	}
	for i, want := range callee.Params {
		if !want.AcceptsValue(args[i]) {
			a.errorAt(c.Args[i], "Argument %d of '%s' must be %s, got %s.", i+1, name, want, args[i])
		}
	}
	return callee.ResultType()
}

func calleeName(e Expr) string {
	if v, ok := e.(*Variable); ok {
		if v.Resolved == ResolveLocal {
			return v.Name
		}
		return CanonicalName(v.Name)
	}
	return "function"
}

func (a *Analyzer) binary(b *Binary) RunaType {
	left := a.expr(b.Left)
	right := a.expr(b.Right)

	switch b.Op {
	case TokenPlus, TokenPlusWord:
		if left.Kind == KindString || right.Kind == KindString {
			a.errorAt(b, "Use 'joined with' for string concatenation instead of '+'.")
			return StringType
		}
		return a.arithmetic(b, left, right)

	case TokenMinus, TokenMinusWord, TokenStar, TokenMultipliedBy, TokenSlash, TokenDividedBy,
		TokenPercent, TokenModuloWord, TokenCaret, TokenPowerOf:
		return a.arithmetic(b, left, right)

	case TokenLess, TokenGreater, TokenLessEqual, TokenGreaterEqual,
		TokenIsLessThan, TokenIsGreaterThan, TokenIsLessOrEqualTo, TokenIsGreaterOrEqualTo:
		if !numericOrAny(left) || !numericOrAny(right) {
			a.errorAt(b, "Comparison operations require number operands (integer/float).")
		}
		return BooleanType

	case TokenEqualEqual, TokenBangEqual, TokenIsEqualTo, TokenIsNotEqualTo:
		if !sameTypeOrAny(left, right) {
			a.errorAt(b, "Equality operations require operands of the same type.")
		}
		return BooleanType

	case TokenJoinedWith:
		if left.Kind != KindString && !left.IsAny() {
			a.errorAt(b, "String concatenation requires the left operand to be a string. Use 'joined with'.")
		}
		return StringType

	case TokenAnd, TokenOr:
		if !booleanOrAny(left) || !booleanOrAny(right) {
			a.errorAt(b, "Logical '%s' operator requires boolean operands.", b.Op)
		}
		return BooleanType

	case TokenContains:
		switch left.Kind {
		case KindList, KindDictionary, KindAny:
		case KindString:
			if right.Kind != KindString && !right.IsAny() {
				a.errorAt(b, "A string can only contain strings.")
			}
		default:
			a.errorAt(b, "Cannot check membership in a value of type %s.", left)
		}
		return BooleanType
	}

	a.errorAt(b, "unsupported operator %s", b.Op)
	return AnyType
}

func (a *Analyzer) arithmetic(b *Binary, left, right RunaType) RunaType {
	if !numericOrAny(left) || !numericOrAny(right) {
		a.errorAt(b, "Binary arithmetic operations require number operands (integer/float).")
		return AnyType
	}
	switch {
	case left.IsAny() || right.IsAny():
		return AnyType
	case left.Kind == KindFloat || right.Kind == KindFloat:
		return FloatType
	}
	return IntegerType
}

func (a *Analyzer) unary(u *Unary) RunaType {
	operand := a.expr(u.Operand)
	switch u.Op {
	case UnaryNot:
		if !booleanOrAny(operand) {
			a.errorAt(u, "Logical 'not' operator requires a boolean operand.")
		}
		return BooleanType
	case UnaryNegate:
		if !numericOrAny(operand) {
			a.errorAt(u, "Unary minus operator requires a number operand (integer/float).")
			return AnyType
		}
		return operand
	case UnaryLength:
		switch operand.Kind {
		case KindList, KindDictionary, KindString, KindAny:
		default:
			a.errorAt(u, "Cannot take the length of a value of type %s.", operand)
		}
		return IntegerType
	case UnaryTypeOf:
		return StringType
	}
	return AnyType
}

func (a *Analyzer) typedValue(n *TypedValue) RunaType {
	def, ok := a.records[n.TypeName]
	if !ok {
		a.errorAt(n, "Unknown type '%s'.", n.TypeName)
		for _, f := range n.Fields {
			a.expr(f.Value)
		}
		return AnyType
	}
	seen := map[string]bool{}
	for _, f := range n.Fields {
		valueType := a.expr(f.Value)
		if seen[f.Name] {
			a.errorAt(n, "Field '%s' given more than once.", f.Name)
		}
		seen[f.Name] = true
		want, ok := recordField(def, f.Name)
		if !ok {
			a.errorAt(n, "Type '%s' has no field '%s'.", n.TypeName, f.Name)
			continue
		}
		if !want.AcceptsValue(valueType) {
			a.errorAt(f.Value, "Field '%s' of type '%s' must be %s, got %s.", f.Name, n.TypeName, want, valueType)
		}
	}
	return ClassType(n.TypeName)
}

func recordField(def *TypeDef, name string) (RunaType, bool) {
	for _, f := range def.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return RunaType{}, false
}

// indexType returns the element type of target[index] and whether the
// target is accessed by key.
func (a *Analyzer) indexType(node Node, target, index RunaType) (RunaType, bool) {
	switch target.Kind {
	case KindList:
		a.checkIntegerIndex(node, index)
		return target.ElemType(), false
	case KindString:
		a.checkIntegerIndex(node, index)
		return StringType, false
	case KindDictionary:
		if !target.KeyType().AcceptsValue(index) {
			a.errorAt(node, "Dictionary key must be %s, got %s.", target.KeyType(), index)
		}
		return target.ElemType(), true
	case KindClass:
		return AnyType, true
	case KindAny:
		return AnyType, false
	}
	a.errorAt(node, "Cannot index into this type.")
	return AnyType, false
}

func (a *Analyzer) checkIntegerIndex(node Node, index RunaType) {
	if index.Kind != KindInteger && !index.IsAny() {
		a.errorAt(node, "Index must be an integer, got %s.", index)
	}
}

func (a *Analyzer) fieldType(node Node, target RunaType, name string) RunaType {
	switch target.Kind {
	case KindClass:
		if def, ok := a.records[target.Name]; ok {
			if t, ok := recordField(def, name); ok {
				return t
			}
			a.errorAt(node, "Type '%s' has no field '%s'.", target.Name, name)
		}
		return AnyType
	case KindDictionary:
		return target.ElemType()
	case KindAny:
		return AnyType
	}
	a.errorAt(node, "Cannot access field '%s' on a value of type %s.", name, target)
	return AnyType
}

func (a *Analyzer) assign(n *Assign) RunaType {
	valueType := a.expr(n.Value)
	sym, ok := a.lookupLocal(n.Name)
	if !ok {
		if _, global := a.globals[n.Name]; global {
			a.errorAt(n, "Cannot assign to '%s'.", n.Name)
		} else {
			a.errorAt(n, "Undeclared variable or function '%s'.", n.Name)
		}
		return AnyType
	}
	if !sym.defined {
		a.errorAt(n, "Cannot read local variable '%s' in its own initializer.", n.Name)
	}

	switch {
	case n.Index != nil:
		index := a.expr(n.Index)
		elem, keyed := a.indexType(n, sym.typ, index)
		n.Keyed = keyed
		if !elem.AcceptsValue(valueType) {
			a.errorAt(n, "Cannot store a value of type %s in '%s'.", valueType, n.Name)
		}
	case n.Field != "":
		want := a.fieldType(n, sym.typ, n.Field)
		n.Keyed = true
		if !want.AcceptsValue(valueType) {
			a.errorAt(n, "Field '%s' must be %s, got %s.", n.Field, want, valueType)
		}
	default:
		if !sym.typ.AcceptsValue(valueType) {
			a.errorAt(n, "Cannot assign value of type %s to variable '%s' of type %s.", valueType, n.Name, sym.typ)
		}
	}
	return sym.typ
}

func numericOrAny(t RunaType) bool {
	return t.IsNumeric() || t.IsAny()
}

func booleanOrAny(t RunaType) bool {
	return t.Kind == KindBoolean || t.IsAny()
}

func sameTypeOrAny(a, b RunaType) bool {
	return a.IsAny() || b.IsAny() || a.Equal(b)
}
