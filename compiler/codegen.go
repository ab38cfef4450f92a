package compiler

import (
	"fmt"
	"slices"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Literal element and argument counts are encoded in one byte.
const maxOperandCount = 255

// local is a named stack slot. Hidden loop state uses parenthesised names
// that no identifier can spell.
type local struct {
	name  string
	depth int
}

// Generator compiles an analysed Program into a Chunk. The AST must have
// passed the Analyzer: codegen relies on its Resolved and Keyed
// annotations.
//
// A Generator used for several Compile calls keeps its script-level
// locals, matching a VM running WithPersistentLocals.
type Generator struct {
	chunk    *bytecode.Chunk
	locals   []local
	depth    int
	function bool // compiling a process body
	pending  map[int]Position
	lastOp   bytecode.Opcode
	hasLast  bool
	line     int

	// KeepResult leaves the value of a trailing expression statement on the
	// stack so a session can report it.
	KeepResult bool
}

// codegenBailout carries a CodegenError up to Compile.
type codegenBailout struct {
	err *CodegenError
}

// NewGenerator creates a generator for a top-level script.
func NewGenerator() *Generator {
	return &Generator{}
}

// Compile generates the script chunk for prog. The chunk ends in Return.
func (g *Generator) Compile(prog *Program) (chunk *bytecode.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(codegenBailout)
			if !ok {
				panic(r)
			}
			chunk, err = nil, b.err
		}
	}()

	g.chunk = bytecode.NewChunk()
	g.pending = map[int]Position{}
	g.hasLast = false
	g.depth = 0

	for i, stmt := range prog.Statements {
		if es, ok := stmt.(*ExprStmt); ok && g.KeepResult && i == len(prog.Statements)-1 && !isAssign(es.Expr) {
			g.setLine(es)
			g.expr(es.Expr)
			continue
		}
		g.stmt(stmt)
	}
	if !g.endsInReturn() {
		g.emit(bytecode.OpReturn)
	}
	g.checkPending()
	return g.chunk, nil
}

// LocalCount returns the number of script-level locals.
func (g *Generator) LocalCount() int {
	return len(g.locals)
}

// TruncateLocals forgets script-level locals declared after the first n.
func (g *Generator) TruncateLocals(n int) {
	if n < len(g.locals) {
		g.locals = g.locals[:n]
	}
}

func (g *Generator) failf(node Node, format string, args ...any) {
	var pos Position
	if node != nil {
		pos = node.Span().Start
	}
	panic(codegenBailout{&CodegenError{Message: fmt.Sprintf(format, args...), Pos: pos}})
}

func (g *Generator) failErr(node Node, err error) {
	panic(codegenBailout{&CodegenError{Message: err.Error(), Pos: node.Span().Start, Cause: err}})
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (g *Generator) setLine(node Node) {
	g.line = node.Span().Start.Line
}

func (g *Generator) mark() {
	if g.line > 0 {
		g.chunk.AddSourceLocation(uint32(g.chunk.CurrentOffset()), uint32(g.line))
	}
}

func (g *Generator) emit(op bytecode.Opcode) {
	g.mark()
	g.chunk.Emit(op)
	g.lastOp, g.hasLast = op, true
}

func (g *Generator) emitByte(op bytecode.Opcode, operand int) {
	g.mark()
	g.chunk.EmitWithOperand(op, byte(operand))
	g.lastOp, g.hasLast = op, true
}

func (g *Generator) emitUint16(op bytecode.Opcode, operands ...int) {
	g.mark()
	bytes := make([]byte, 0, 2*len(operands))
	for _, v := range operands {
		bytes = append(bytes, byte(v>>8), byte(v))
	}
	g.chunk.EmitWithOperand(op, bytes...)
	g.lastOp, g.hasLast = op, true
}

func (g *Generator) emitConstant(node Node, v bytecode.Value) {
	g.mark()
	if _, err := g.chunk.EmitConstant(v); err != nil {
		g.failErr(node, err)
	}
	g.lastOp, g.hasLast = bytecode.OpConstant, true
}

// constant adds v to the pool and returns its u16 index.
func (g *Generator) constant(node Node, v bytecode.Value) int {
	idx := g.chunk.AddConstant(v)
	if idx >= bytecode.MaxConstants {
		g.failf(node, "too many constants in one chunk (%d)", idx+1)
	}
	return idx
}

func (g *Generator) emitJump(node Node, op bytecode.Opcode) int {
	g.mark()
	placeholder := g.chunk.EmitJump(op)
	g.pending[placeholder] = node.Span().Start
	g.lastOp, g.hasLast = op, true
	return placeholder
}

// patchJump points the jump at the current offset. Code after a jump
// target is reachable from the jump, so the last-op tracking resets.
func (g *Generator) patchJump(node Node, placeholder int) {
	if err := g.chunk.PatchJump(placeholder); err != nil {
		g.failErr(node, err)
	}
	delete(g.pending, placeholder)
	g.hasLast = false
}

func (g *Generator) emitLoop(node Node, start int) {
	g.mark()
	if err := g.chunk.EmitLoop(start); err != nil {
		g.failErr(node, err)
	}
	g.lastOp, g.hasLast = bytecode.OpLoop, true
}

func (g *Generator) endsInReturn() bool {
	return g.hasLast && g.lastOp.IsReturn()
}

func (g *Generator) checkPending() {
	if len(g.pending) == 0 {
		return
	}
	offsets := make([]int, 0, len(g.pending))
	for off := range g.pending {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)
	panic(codegenBailout{&CodegenError{
		Message: fmt.Sprintf("Unpatched jumps found: %v", offsets),
		Pos:     g.pending[offsets[0]],
	}})
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

func (g *Generator) beginScope() {
	g.depth++
}

// endScope pops the locals declared in the closing scope.
func (g *Generator) endScope() {
	g.depth--
	for len(g.locals) > 0 && g.locals[len(g.locals)-1].depth > g.depth {
		g.emit(bytecode.OpPop)
		g.locals = g.locals[:len(g.locals)-1]
	}
}

// addLocal binds name to the slot holding the value on top of the stack and
// emits the SetLocal that records it. The value stays on the stack.
func (g *Generator) addLocal(node Node, name string) {
	if len(g.locals) >= bytecode.MaxLocals {
		g.failf(node, "too many local variables in one function (max %d)", bytecode.MaxLocals)
	}
	g.locals = append(g.locals, local{name: name, depth: g.depth})
	g.emitByte(bytecode.OpSetLocal, len(g.locals)-1)
}

func (g *Generator) resolveLocal(node Node, name string) int {
	for i := len(g.locals) - 1; i >= 0; i-- {
		if g.locals[i].name == name {
			return i
		}
	}
	g.failf(node, "unresolved local '%s'", name)
	return -1
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *Generator) stmt(stmt Stmt) {
	g.setLine(stmt)
	switch s := stmt.(type) {
	case *Let:
		g.expr(s.Value)
		g.addLocal(s, s.Name)

	case *ExprStmt:
		g.expr(s.Expr)
		g.emit(bytecode.OpPop)

	case *Block:
		g.block(s)

	case *If:
		g.ifStmt(s)

	case *While:
		start := g.chunk.CurrentOffset()
		g.expr(s.Condition)
		exit := g.emitJump(s, bytecode.OpJumpIfFalse)
		g.emit(bytecode.OpPop)
		g.block(s.Body)
		g.emitLoop(s, start)
		g.patchJump(s, exit)
		g.emit(bytecode.OpPop)

	case *For:
		if s.IsRange() {
			g.rangeLoop(s)
		} else {
			g.eachLoop(s)
		}

	case *Return:
		if !g.function {
			g.failf(s, "Return statement is only allowed inside functions.")
		}
		if s.Value != nil {
			g.expr(s.Value)
		} else {
			g.emit(bytecode.OpNull)
		}
		g.emit(bytecode.OpReturnValue)

	case *Process:
		g.process(s)

	case *Print:
		g.expr(s.Value)
		if s.Display {
			g.emit(bytecode.OpDisplay)
		} else {
			g.emit(bytecode.OpPrint)
		}

	case *Match:
		g.matchStmt(s)

	case *EnumDef:
		for _, v := range s.Variants {
			g.emitConstant(s, bytecode.StringValue(v))
			g.emitUint16(bytecode.OpSetGlobal, g.constant(s, bytecode.StringValue(v)))
			g.emit(bytecode.OpPop)
		}

	case *Annotation, *TypeDef:
		// No runtime effect.

	default:
		g.failf(stmt, "unsupported statement %T", stmt)
	}
}

func (g *Generator) block(b *Block) {
	g.beginScope()
	for _, s := range b.Statements {
		g.stmt(s)
	}
	g.endScope()
}

// ifStmt lowers If. JumpIfFalse leaves the condition on the stack, so both
// paths start with a Pop.
func (g *Generator) ifStmt(s *If) {
	g.expr(s.Condition)
	elseJump := g.emitJump(s, bytecode.OpJumpIfFalse)
	g.emit(bytecode.OpPop)
	g.block(s.Then)
	endJump := g.emitJump(s, bytecode.OpJump)
	g.patchJump(s, elseJump)
	g.emit(bytecode.OpPop)
	if s.Else != nil {
		g.stmt(s.Else)
	}
	g.patchJump(s, endJump)
}

// eachLoop iterates the ToList view of the source through hidden (seq) and
// (index) locals.
func (g *Generator) eachLoop(s *For) {
	g.beginScope()
	g.expr(s.Source)
	g.emit(bytecode.OpToList)
	g.addLocal(s, "(seq)")
	seq := len(g.locals) - 1
	g.emitConstant(s, bytecode.IntegerValue(0))
	g.addLocal(s, "(index)")
	index := len(g.locals) - 1
	g.emit(bytecode.OpNull)
	g.addLocal(s, s.Var)
	item := len(g.locals) - 1

	start := g.chunk.CurrentOffset()
	g.emitByte(bytecode.OpGetLocal, index)
	g.emitByte(bytecode.OpGetLocal, seq)
	g.emit(bytecode.OpLength)
	g.emit(bytecode.OpLess)
	exit := g.emitJump(s, bytecode.OpJumpIfFalse)
	g.emit(bytecode.OpPop)

	g.emitByte(bytecode.OpGetLocal, seq)
	g.emitByte(bytecode.OpGetLocal, index)
	g.emit(bytecode.OpGetItem)
	g.emitByte(bytecode.OpSetLocal, item)
	g.emit(bytecode.OpPop)

	g.block(s.Body)

	g.emitByte(bytecode.OpGetLocal, index)
	g.emitConstant(s, bytecode.IntegerValue(1))
	g.emit(bytecode.OpAdd)
	g.emitByte(bytecode.OpSetLocal, index)
	g.emit(bytecode.OpPop)
	g.emitLoop(s, start)

	g.patchJump(s, exit)
	g.emit(bytecode.OpPop)
	g.endScope()
}

// rangeLoop counts the loop variable from Source to End inclusive. A
// negative literal step counts down.
func (g *Generator) rangeLoop(s *For) {
	g.beginScope()
	g.expr(s.Source)
	g.addLocal(s, s.Var)
	counter := len(g.locals) - 1
	g.expr(s.End)
	g.addLocal(s, "(end)")
	end := len(g.locals) - 1
	if s.Step != nil {
		g.expr(s.Step)
	} else {
		g.emitConstant(s, bytecode.IntegerValue(1))
	}
	g.addLocal(s, "(step)")
	step := len(g.locals) - 1

	guard := bytecode.OpLessEqual
	if isNegativeLiteral(s.Step) {
		guard = bytecode.OpGreaterEqual
	}

	start := g.chunk.CurrentOffset()
	g.emitByte(bytecode.OpGetLocal, counter)
	g.emitByte(bytecode.OpGetLocal, end)
	g.emit(guard)
	exit := g.emitJump(s, bytecode.OpJumpIfFalse)
	g.emit(bytecode.OpPop)

	g.block(s.Body)

	g.emitByte(bytecode.OpGetLocal, counter)
	g.emitByte(bytecode.OpGetLocal, step)
	g.emit(bytecode.OpAdd)
	g.emitByte(bytecode.OpSetLocal, counter)
	g.emit(bytecode.OpPop)
	g.emitLoop(s, start)

	g.patchJump(s, exit)
	g.emit(bytecode.OpPop)
	g.endScope()
}

func isNegativeLiteral(e Expr) bool {
	lit, ok := e.(*Literal)
	if !ok {
		return false
	}
	switch lit.Value.Kind {
	case bytecode.KindInteger:
		return lit.Value.Int < 0
	case bytecode.KindFloat:
		return lit.Value.Float < 0
	}
	return false
}

func (g *Generator) matchStmt(s *Match) {
	g.beginScope()
	g.expr(s.Subject)
	g.addLocal(s, "(match)")
	subject := len(g.locals) - 1

	var ends []int
	for _, c := range s.Cases {
		g.setLine(c.Pattern)
		g.emitByte(bytecode.OpGetLocal, subject)
		g.expr(c.Pattern)
		g.emit(bytecode.OpIsEqualTo)
		next := g.emitJump(c.Pattern, bytecode.OpJumpIfFalse)
		g.emit(bytecode.OpPop)
		g.block(c.Body)
		ends = append(ends, g.emitJump(c.Pattern, bytecode.OpJump))
		g.patchJump(c.Pattern, next)
		g.emit(bytecode.OpPop)
	}
	if s.Otherwise != nil {
		g.block(s.Otherwise)
	}
	for _, end := range ends {
		g.patchJump(s, end)
	}
	g.endScope()
}

// process compiles the body into its own chunk and binds the function as a
// global and as a local of the enclosing scope.
func (g *Generator) process(s *Process) {
	sub := &Generator{
		chunk:    bytecode.NewChunk(),
		function: true,
		pending:  map[int]Position{},
		line:     g.line,
	}
	for _, p := range s.Params {
		sub.locals = append(sub.locals, local{name: p.Name})
	}
	if len(sub.locals) > bytecode.MaxLocals {
		g.failf(s, "too many parameters for process '%s'", s.Name)
	}
	for _, st := range s.Body.Statements {
		sub.stmt(st)
	}
	if !sub.endsInReturn() {
		sub.emit(bytecode.OpNull)
		sub.emit(bytecode.OpReturnValue)
	}
	sub.checkPending()

	fn := &bytecode.Function{Name: s.Name, Arity: len(s.Params), Chunk: sub.chunk}
	g.setLine(s)
	key := bytecode.GlobalKey(s.Name)
	nameIdx := g.constant(s, bytecode.StringValue(key))
	fnIdx := g.constant(s, bytecode.FunctionValue(fn))
	g.emitUint16(bytecode.OpDefineFunction, nameIdx, fnIdx)
	g.addLocal(s, key)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType]bytecode.Opcode{
	TokenPlus:               bytecode.OpAdd,
	TokenMinus:              bytecode.OpSubtract,
	TokenStar:               bytecode.OpMultiply,
	TokenSlash:              bytecode.OpDivide,
	TokenPercent:            bytecode.OpModulo,
	TokenCaret:              bytecode.OpPower,
	TokenPlusWord:           bytecode.OpPlus,
	TokenMinusWord:          bytecode.OpMinus,
	TokenMultipliedBy:       bytecode.OpMultipliedBy,
	TokenDividedBy:          bytecode.OpDividedBy,
	TokenModuloWord:         bytecode.OpModuloOp,
	TokenPowerOf:            bytecode.OpPowerOf,
	TokenJoinedWith:         bytecode.OpConcat,
	TokenEqualEqual:         bytecode.OpEqual,
	TokenBangEqual:          bytecode.OpNotEqual,
	TokenLess:               bytecode.OpLess,
	TokenGreater:            bytecode.OpGreater,
	TokenLessEqual:          bytecode.OpLessEqual,
	TokenGreaterEqual:       bytecode.OpGreaterEqual,
	TokenIsEqualTo:          bytecode.OpIsEqualTo,
	TokenIsNotEqualTo:       bytecode.OpIsNotEqualTo,
	TokenIsLessThan:         bytecode.OpIsLessThan,
	TokenIsGreaterThan:      bytecode.OpIsGreaterThan,
	TokenIsLessOrEqualTo:    bytecode.OpIsLessThanOrEqualTo,
	TokenIsGreaterOrEqualTo: bytecode.OpIsGreaterThanOrEqualTo,
	TokenAnd:                bytecode.OpAnd,
	TokenOr:                 bytecode.OpOr,
	TokenContains:           bytecode.OpContains,
}

var unaryOps = map[UnaryOp]bytecode.Opcode{
	UnaryNot:    bytecode.OpNot,
	UnaryNegate: bytecode.OpNegate,
	UnaryLength: bytecode.OpLength,
	UnaryTypeOf: bytecode.OpTypeOf,
}

func (g *Generator) expr(e Expr) {
	switch n := e.(type) {
	case *Literal:
		switch n.Value.Kind {
		case bytecode.KindNull:
			g.emit(bytecode.OpNull)
		case bytecode.KindBoolean:
			if n.Value.Bool {
				g.emit(bytecode.OpTrue)
			} else {
				g.emit(bytecode.OpFalse)
			}
		default:
			g.emitConstant(n, n.Value)
		}

	case *Variable:
		g.variable(n)

	case *Assign:
		g.assign(n)

	case *Grouping:
		g.expr(n.Inner)

	case *Binary:
		g.expr(n.Left)
		g.expr(n.Right)
		op, ok := binaryOps[n.Op]
		if !ok {
			g.failf(n, "unsupported operator %s", n.Op)
		}
		g.emit(op)

	case *Unary:
		g.expr(n.Operand)
		op, ok := unaryOps[n.Op]
		if !ok {
			g.failf(n, "unsupported unary operator %d", n.Op)
		}
		g.emit(op)

	case *Call:
		g.expr(n.Callee)
		if len(n.Args) > maxOperandCount {
			g.failf(n, "too many arguments in call (max %d)", maxOperandCount)
		}
		for _, arg := range n.Args {
			g.expr(arg)
		}
		g.emitByte(bytecode.OpCall, len(n.Args))

	case *ListExpr:
		if len(n.Elements) > maxOperandCount {
			g.failf(n, "too many elements in list literal (max %d)", maxOperandCount)
		}
		for _, el := range n.Elements {
			g.expr(el)
		}
		g.emitByte(bytecode.OpCreateList, len(n.Elements))

	case *DictExpr:
		if len(n.Keys) > maxOperandCount {
			g.failf(n, "too many entries in dictionary literal (max %d)", maxOperandCount)
		}
		for i := range n.Keys {
			g.expr(n.Keys[i])
			g.expr(n.Values[i])
		}
		g.emitByte(bytecode.OpCreateDict, len(n.Keys))

	case *TypedValue:
		if len(n.Fields) > maxOperandCount {
			g.failf(n, "too many fields in value of type %s (max %d)", n.TypeName, maxOperandCount)
		}
		for _, f := range n.Fields {
			g.emitConstant(n, bytecode.StringValue(f.Name))
			g.expr(f.Value)
		}
		g.emitByte(bytecode.OpCreateDict, len(n.Fields))

	case *Index:
		g.expr(n.Target)
		if !n.Keyed && isLastIndex(n.Index) {
			g.emit(bytecode.OpDup)
			g.emit(bytecode.OpLength)
			g.emitConstant(n, bytecode.IntegerValue(1))
			g.emit(bytecode.OpSubtract)
			g.emit(bytecode.OpGetItem)
			return
		}
		g.expr(n.Index)
		if n.Keyed {
			g.emit(bytecode.OpGetDict)
		} else {
			g.emit(bytecode.OpGetItem)
		}

	case *Field:
		g.expr(n.Target)
		g.emitConstant(n, bytecode.StringValue(n.Name))
		g.emit(bytecode.OpGetDict)

	case *InterpolatedString:
		for i, part := range n.Parts {
			if part.Expr != nil {
				g.expr(part.Expr)
				g.emit(bytecode.OpToString)
			} else {
				g.emitConstant(n, bytecode.StringValue(part.Text))
			}
			if i > 0 {
				g.emit(bytecode.OpConcat)
			}
		}
		if len(n.Parts) == 0 {
			g.emitConstant(n, bytecode.StringValue(""))
		}

	default:
		g.failf(e, "unsupported expression %T", e)
	}
}

func isAssign(e Expr) bool {
	_, ok := e.(*Assign)
	return ok
}

func isLastIndex(e Expr) bool {
	lit, ok := e.(*Literal)
	return ok && lit.Value.Kind == bytecode.KindInteger && lit.Value.Int == -1
}

func (g *Generator) variable(v *Variable) {
	switch v.Resolved {
	case ResolveLocal:
		g.emitByte(bytecode.OpGetLocal, g.resolveLocal(v, v.Name))
	case ResolveCall:
		g.emitUint16(bytecode.OpGetGlobal, g.constant(v, bytecode.StringValue(bytecode.GlobalKey(CanonicalName(v.Name)))))
		g.emitByte(bytecode.OpCall, 0)
	case ResolveFunction:
		g.emitUint16(bytecode.OpGetGlobal, g.constant(v, bytecode.StringValue(bytecode.GlobalKey(CanonicalName(v.Name)))))
	case ResolveGlobal:
		g.emitUint16(bytecode.OpGetGlobal, g.constant(v, bytecode.StringValue(v.Name)))
	default:
		g.failf(v, "Undeclared variable or function '%s'.", v.Name)
	}
}

// assign stores into a local and leaves the stored local value on the
// stack. Element and field stores rebuild the collection and write it back.
func (g *Generator) assign(a *Assign) {
	slot := g.resolveLocal(a, a.Name)
	switch {
	case a.Index != nil:
		g.emitByte(bytecode.OpGetLocal, slot)
		g.expr(a.Index)
		g.expr(a.Value)
		if a.Keyed {
			g.emit(bytecode.OpSetDict)
		} else {
			g.emit(bytecode.OpSetItem)
		}
	case a.Field != "":
		g.emitByte(bytecode.OpGetLocal, slot)
		g.emitConstant(a, bytecode.StringValue(a.Field))
		g.expr(a.Value)
		g.emit(bytecode.OpSetDict)
	default:
		g.expr(a.Value)
	}
	g.emitByte(bytecode.OpSetLocal, slot)
}
