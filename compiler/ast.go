package compiler

import "github.com/runa-lang/runa/pkg/bytecode"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Runa
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Literal is an Integer, Float, String, Boolean or Null constant.
type Literal struct {
	SpanVal Span
	Value   bytecode.Value
}

func (n *Literal) Span() Span { return n.SpanVal }
func (n *Literal) node()      {}
func (n *Literal) expr()      {}

// Resolution records how the analyzer bound a Variable.
type Resolution int

const (
	ResolveUnknown Resolution = iota
	ResolveLocal              // a local slot
	ResolveCall               // zero-argument call of a global function
	ResolveFunction           // a global function value (callee position)
	ResolveGlobal             // a global value such as an enum variant
)

// Variable is a name reference. Capitalised names that are not locals are
// calls of the function with the same canonical name.
type Variable struct {
	SpanVal  Span
	Name     string
	Resolved Resolution // set by the semantic analyzer
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// Assign is "Set name to value", "Set name[index] to value" or
// "Set name.field to value". The expression's value is the new value of name.
type Assign struct {
	SpanVal Span
	Name    string
	Index   Expr   // non-nil for element assignment
	Field   string // non-empty for field assignment
	Value   Expr
	Keyed   bool // target is a dictionary or typed value; set by the analyzer
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}
func (n *Assign) expr()      {}

// Binary is a two-operand operator application. Op is the operator token
// type so symbolic and natural spellings stay distinct.
type Binary struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span { return n.SpanVal }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// UnaryOp identifies a prefix operation.
type UnaryOp int

const (
	UnaryNot UnaryOp = iota
	UnaryNegate
	UnaryLength // the length of X
	UnaryTypeOf // the type of X
)

// Unary is a one-operand operation.
type Unary struct {
	SpanVal Span
	Op      UnaryOp
	Operand Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// Grouping is a parenthesised expression.
type Grouping struct {
	SpanVal Span
	Inner   Expr
}

func (n *Grouping) Span() Span { return n.SpanVal }
func (n *Grouping) node()      {}
func (n *Grouping) expr()      {}

// Call invokes Callee with Args.
type Call struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// ListExpr is [a, b] or "a list containing a, b and c".
type ListExpr struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListExpr) Span() Span { return n.SpanVal }
func (n *ListExpr) node()      {}
func (n *ListExpr) expr()      {}

// DictExpr is "a dictionary containing: k as v, ...".
type DictExpr struct {
	SpanVal Span
	Keys    []Expr
	Values  []Expr
}

func (n *DictExpr) Span() Span { return n.SpanVal }
func (n *DictExpr) node()      {}
func (n *DictExpr) expr()      {}

// FieldInit is one "field as value" entry of a typed value.
type FieldInit struct {
	Name  string
	Value Expr
}

// TypedValue is "a value of type T with f as v, ...".
type TypedValue struct {
	SpanVal  Span
	TypeName string
	Fields   []FieldInit
}

func (n *TypedValue) Span() Span { return n.SpanVal }
func (n *TypedValue) node()      {}
func (n *TypedValue) expr()      {}

// Index is target[index], also produced by "the first item of X",
// "the last item of X" and "item N of X".
type Index struct {
	SpanVal Span
	Target  Expr
	Index   Expr
	Keyed   bool // dictionary lookup; set by the analyzer
}

func (n *Index) Span() Span { return n.SpanVal }
func (n *Index) node()      {}
func (n *Index) expr()      {}

// Field is target.name on a typed value or dictionary.
type Field struct {
	SpanVal Span
	Target  Expr
	Name    string
}

func (n *Field) Span() Span { return n.SpanVal }
func (n *Field) node()      {}
func (n *Field) expr()      {}

// StringPart is either literal text or an interpolated expression.
type StringPart struct {
	Text string
	Expr Expr // non-nil for {expr} segments
}

// InterpolatedString is a string literal containing {expr} segments.
type InterpolatedString struct {
	SpanVal Span
	Parts   []StringPart
}

func (n *InterpolatedString) Span() Span { return n.SpanVal }
func (n *InterpolatedString) node()      {}
func (n *InterpolatedString) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Let declares a local: "Let name [as Type] be value".
type Let struct {
	SpanVal  Span
	Name     string
	Declared *RunaType // optional annotation
	Value    Expr
}

func (n *Let) Span() Span { return n.SpanVal }
func (n *Let) node()      {}
func (n *Let) stmt()      {}

// Block is a statement list with its own scope.
type Block struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// ExprStmt evaluates an expression and discards the result.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// If is a conditional. "Otherwise If" chains nest as an *If in Else.
type If struct {
	SpanVal   Span
	Condition Expr
	Then      *Block
	Else      Stmt // nil, *Block or *If
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) stmt()      {}

// While loops while Condition is true.
type While struct {
	SpanVal   Span
	Condition Expr
	Body      *Block
}

func (n *While) Span() Span { return n.SpanVal }
func (n *While) node()      {}
func (n *While) stmt()      {}

// For is "For each Var in Source" when End is nil, otherwise the numeric
// range "For Var from Source to End [by Step]".
type For struct {
	SpanVal Span
	Var     string
	Source  Expr
	End     Expr
	Step    Expr
	Body    *Block
}

func (n *For) Span() Span { return n.SpanVal }
func (n *For) node()      {}
func (n *For) stmt()      {}

// IsRange reports whether the loop iterates a numeric range.
func (n *For) IsRange() bool { return n.End != nil }

// Return leaves the current process, optionally with a value.
type Return struct {
	SpanVal Span
	Value   Expr
}

func (n *Return) Span() Span { return n.SpanVal }
func (n *Return) node()      {}
func (n *Return) stmt()      {}

// Param is a process parameter.
type Param struct {
	Name string
	Type RunaType
}

// Process declares a function. Name is the canonical lower-case name.
type Process struct {
	SpanVal  Span
	Name     string
	Params   []Param
	Declared *RunaType // optional "returns" annotation
	Body     *Block

	Inferred RunaType // return type; set by the analyzer
}

func (n *Process) Span() Span { return n.SpanVal }
func (n *Process) node()      {}
func (n *Process) stmt()      {}

// Print writes a value followed by a newline.
type Print struct {
	SpanVal Span
	Value   Expr
	Display bool // spelled "Display"
}

func (n *Print) Span() Span { return n.SpanVal }
func (n *Print) node()      {}
func (n *Print) stmt()      {}

// Annotation is an "@Kind: ... @End_Kind" block. It carries no behaviour.
type Annotation struct {
	SpanVal Span
	Kind    string
	Content string
}

func (n *Annotation) Span() Span { return n.SpanVal }
func (n *Annotation) node()      {}
func (n *Annotation) stmt()      {}

// WhenCase is one arm of a Match.
type WhenCase struct {
	Pattern Expr
	Body    *Block
}

// Match compares Subject against each When pattern in order.
type Match struct {
	SpanVal   Span
	Subject   Expr
	Cases     []WhenCase
	Otherwise *Block
}

func (n *Match) Span() Span { return n.SpanVal }
func (n *Match) node()      {}
func (n *Match) stmt()      {}

// TypeField is one field of a TypeDef.
type TypeField struct {
	Name string
	Type RunaType
}

// TypeDef declares a record type: "Type called "Point": x as Integer ...".
type TypeDef struct {
	SpanVal Span
	Name    string
	Fields  []TypeField
}

func (n *TypeDef) Span() Span { return n.SpanVal }
func (n *TypeDef) node()      {}
func (n *TypeDef) stmt()      {}

// EnumDef declares an enumeration whose variants evaluate to their names.
type EnumDef struct {
	SpanVal  Span
	Name     string
	Variants []string
}

func (n *EnumDef) Span() Span { return n.SpanVal }
func (n *EnumDef) node()      {}
func (n *EnumDef) stmt()      {}

// Program is a parsed source file.
type Program struct {
	Statements []Stmt
}
