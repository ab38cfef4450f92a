package hash

// ---------------------------------------------------------------------------
// Frozen hashing AST types.
//
// These are stripped-down parallels of compiler/ast.go with no Span data,
// and with (scope depth, slot) pairs instead of local variable names. Two
// programs that differ only in local names, comments or annotations produce
// identical hashing ASTs. Statement lines are kept because they end up in
// the chunk's source map.
// ---------------------------------------------------------------------------

// HNode is the interface implemented by all hashing AST nodes.
type HNode interface {
	hnode() // marker method
}

// ---------------------------------------------------------------------------
// Literal nodes
// ---------------------------------------------------------------------------

type HIntLiteral struct{ Value int64 }
type HFloatLiteral struct{ Value float64 }
type HStringLiteral struct{ Value string }
type HBoolLiteral struct{ Value bool }
type HNullLiteral struct{}

func (*HIntLiteral) hnode()    {}
func (*HFloatLiteral) hnode()  {}
func (*HStringLiteral) hnode() {}
func (*HBoolLiteral) hnode()   {}
func (*HNullLiteral) hnode()   {}

// ---------------------------------------------------------------------------
// Variable references
// ---------------------------------------------------------------------------

// HLocalRef references a local variable. ScopeDepth 0 is the innermost
// scope; SlotIndex is the declaration order within that scope.
type HLocalRef struct {
	ScopeDepth uint16
	SlotIndex  uint16
}

// HGlobalRef references a global by its runtime key. Call is set for a bare
// process name, which calls it with no arguments.
type HGlobalRef struct {
	Key  string
	Call bool
}

func (*HLocalRef) hnode()  {}
func (*HGlobalRef) hnode() {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type HBinary struct {
	Op          string
	Left, Right HNode
}

type HUnary struct {
	Op      byte
	Operand HNode
}

type HCall struct {
	Callee HNode
	Args   []HNode
}

type HList struct{ Elements []HNode }

type HDict struct {
	Keys, Values []HNode
}

type HTypedValue struct {
	TypeName string
	Fields   []string
	Values   []HNode
}

type HIndex struct {
	Target, Index HNode
	Keyed         bool
}

type HField struct {
	Target HNode
	Name   string
}

// HInterpolated holds parallel part slices: where Exprs[i] is nil, part i
// is the text Texts[i].
type HInterpolated struct {
	Texts []string
	Exprs []HNode
}

// HAssign stores into a local, optionally through an index or field.
type HAssign struct {
	Target *HLocalRef
	Index  HNode // nil when absent
	Field  string
	Keyed  bool
	Value  HNode
}

func (*HBinary) hnode()       {}
func (*HUnary) hnode()        {}
func (*HCall) hnode()         {}
func (*HList) hnode()         {}
func (*HDict) hnode()         {}
func (*HTypedValue) hnode()   {}
func (*HIndex) hnode()        {}
func (*HField) hnode()        {}
func (*HInterpolated) hnode() {}
func (*HAssign) hnode()       {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// HLine records the source line of the statement that follows it.
type HLine struct {
	Line uint32
	Stmt HNode
}

type HLet struct{ Value HNode }
type HExprStmt struct{ Expr HNode }
type HBlock struct{ Statements []HNode }

type HIf struct {
	Condition HNode
	Then      *HBlock
	Else      HNode // nil, *HBlock or an else-if *HLine
}

type HWhile struct {
	Condition HNode
	Body      *HBlock
}

type HForEach struct {
	Source HNode
	Body   *HBlock
}

type HForRange struct {
	From, To, Step HNode // Step nil when absent
	Body           *HBlock
}

type HReturn struct{ Value HNode } // Value nil for a bare Return

type HProcess struct {
	Name  string
	Arity int
	Body  *HBlock
}

type HPrint struct {
	Value   HNode
	Display bool
}

type HMatch struct {
	Subject   HNode
	Patterns  []HNode
	Bodies    []*HBlock
	Otherwise *HBlock // nil when absent
}

type HTypeDef struct {
	Name   string
	Fields []string
	Types  []string
}

type HEnumDef struct {
	Name     string
	Variants []string
}

// HProgram is the root of a normalized program.
type HProgram struct {
	Statements []HNode
}

func (*HLine) hnode()     {}
func (*HLet) hnode()      {}
func (*HExprStmt) hnode() {}
func (*HBlock) hnode()    {}
func (*HIf) hnode()       {}
func (*HWhile) hnode()    {}
func (*HForEach) hnode()  {}
func (*HForRange) hnode() {}
func (*HReturn) hnode()   {}
func (*HProcess) hnode()  {}
func (*HPrint) hnode()    {}
func (*HMatch) hnode()    {}
func (*HTypeDef) hnode()  {}
func (*HEnumDef) hnode()  {}
func (*HProgram) hnode()  {}
