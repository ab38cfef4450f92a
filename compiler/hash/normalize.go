package hash

import (
	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// AST Normalization: compiler AST → frozen hashing AST
//
// Walks an analysed Program and produces the frozen hashing AST with
// (scope depth, slot) indices for locals and runtime keys for globals.
// Annotations are dropped.
// ---------------------------------------------------------------------------

// scope tracks the locals declared at one nesting level.
type scope struct {
	vars map[string]uint16 // variable name → slot index
	next uint16
}

// normalizer holds state for the normalization walk.
type normalizer struct {
	scopes []scope // innermost last
}

// NormalizeProgram transforms an analysed Program into a frozen HProgram.
// Resolution annotations left by the analyzer decide how each name is
// encoded; unanalysed variables fall back to local-then-global lookup.
func NormalizeProgram(prog *compiler.Program) *HProgram {
	n := &normalizer{}
	n.pushScope()
	out := &HProgram{Statements: make([]HNode, 0, len(prog.Statements))}
	for _, s := range prog.Statements {
		if h := n.normalizeStmt(s); h != nil {
			out.Statements = append(out.Statements, h)
		}
	}
	return out
}

func (n *normalizer) pushScope() {
	n.scopes = append(n.scopes, scope{vars: map[string]uint16{}})
}

func (n *normalizer) popScope() {
	n.scopes = n.scopes[:len(n.scopes)-1]
}

func (n *normalizer) declare(name string) {
	s := &n.scopes[len(n.scopes)-1]
	s.vars[name] = s.next
	s.next++
}

// lookup returns the de Bruijn reference for name, or nil.
func (n *normalizer) lookup(name string) *HLocalRef {
	for i := len(n.scopes) - 1; i >= 0; i-- {
		if slot, ok := n.scopes[i].vars[name]; ok {
			return &HLocalRef{ScopeDepth: uint16(len(n.scopes) - 1 - i), SlotIndex: slot}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statement normalization
// ---------------------------------------------------------------------------

// normalizeStmt returns nil for statements without runtime effect on the
// hash, which today means annotations.
func (n *normalizer) normalizeStmt(stmt compiler.Stmt) HNode {
	var node HNode
	switch s := stmt.(type) {
	case *compiler.Let:
		node = &HLet{Value: n.normalizeExpr(s.Value)}
		n.declare(s.Name)
	case *compiler.ExprStmt:
		node = &HExprStmt{Expr: n.normalizeExpr(s.Expr)}
	case *compiler.Block:
		node = n.normalizeBlock(s)
	case *compiler.If:
		h := &HIf{Condition: n.normalizeExpr(s.Condition), Then: n.normalizeBlock(s.Then)}
		if s.Else != nil {
			h.Else = n.normalizeStmt(s.Else)
		}
		node = h
	case *compiler.While:
		node = &HWhile{Condition: n.normalizeExpr(s.Condition), Body: n.normalizeBlock(s.Body)}
	case *compiler.For:
		node = n.normalizeFor(s)
	case *compiler.Return:
		h := &HReturn{}
		if s.Value != nil {
			h.Value = n.normalizeExpr(s.Value)
		}
		node = h
	case *compiler.Process:
		node = n.normalizeProcess(s)
	case *compiler.Print:
		node = &HPrint{Value: n.normalizeExpr(s.Value), Display: s.Display}
	case *compiler.Match:
		h := &HMatch{Subject: n.normalizeExpr(s.Subject)}
		for _, c := range s.Cases {
			h.Patterns = append(h.Patterns, n.normalizeExpr(c.Pattern))
			h.Bodies = append(h.Bodies, n.normalizeBlock(c.Body))
		}
		if s.Otherwise != nil {
			h.Otherwise = n.normalizeBlock(s.Otherwise)
		}
		node = h
	case *compiler.TypeDef:
		h := &HTypeDef{Name: s.Name}
		for _, f := range s.Fields {
			h.Fields = append(h.Fields, f.Name)
			h.Types = append(h.Types, f.Type.String())
		}
		node = h
	case *compiler.EnumDef:
		node = &HEnumDef{Name: s.Name, Variants: s.Variants}
	default:
		// Annotations carry no behaviour.
		return nil
	}
	return &HLine{Line: uint32(stmt.Span().Start.Line), Stmt: node}
}

func (n *normalizer) normalizeBlock(b *compiler.Block) *HBlock {
	n.pushScope()
	defer n.popScope()
	h := &HBlock{Statements: make([]HNode, 0, len(b.Statements))}
	for _, s := range b.Statements {
		if node := n.normalizeStmt(s); node != nil {
			h.Statements = append(h.Statements, node)
		}
	}
	return h
}

func (n *normalizer) normalizeFor(s *compiler.For) HNode {
	if s.IsRange() {
		h := &HForRange{From: n.normalizeExpr(s.Source), To: n.normalizeExpr(s.End)}
		if s.Step != nil {
			h.Step = n.normalizeExpr(s.Step)
		}
		n.pushScope()
		n.declare(s.Var)
		h.Body = n.normalizeBlock(s.Body)
		n.popScope()
		return h
	}

	h := &HForEach{Source: n.normalizeExpr(s.Source)}
	n.pushScope()
	n.declare(s.Var)
	h.Body = n.normalizeBlock(s.Body)
	n.popScope()
	return h
}

// normalizeProcess walks the body in a fresh scope stack holding only the
// parameters, the way the body is compiled.
func (n *normalizer) normalizeProcess(s *compiler.Process) HNode {
	saved := n.scopes
	n.scopes = nil
	n.pushScope()
	for _, p := range s.Params {
		n.declare(p.Name)
	}
	body := &HBlock{Statements: make([]HNode, 0, len(s.Body.Statements))}
	for _, st := range s.Body.Statements {
		if node := n.normalizeStmt(st); node != nil {
			body.Statements = append(body.Statements, node)
		}
	}
	n.scopes = saved

	// The process value also occupies a local slot of the enclosing scope.
	n.declare(bytecode.GlobalKey(s.Name))
	return &HProcess{Name: s.Name, Arity: len(s.Params), Body: body}
}

// ---------------------------------------------------------------------------
// Expression normalization
// ---------------------------------------------------------------------------

func (n *normalizer) normalizeExpr(expr compiler.Expr) HNode {
	switch e := expr.(type) {
	case *compiler.Literal:
		return normalizeValue(e.Value)
	case *compiler.Variable:
		return n.normalizeVariable(e)
	case *compiler.Grouping:
		return n.normalizeExpr(e.Inner)
	case *compiler.Binary:
		return &HBinary{Op: e.Op.String(), Left: n.normalizeExpr(e.Left), Right: n.normalizeExpr(e.Right)}
	case *compiler.Unary:
		return &HUnary{Op: byte(e.Op), Operand: n.normalizeExpr(e.Operand)}
	case *compiler.Call:
		return &HCall{Callee: n.normalizeExpr(e.Callee), Args: n.normalizeExprs(e.Args)}
	case *compiler.ListExpr:
		return &HList{Elements: n.normalizeExprs(e.Elements)}
	case *compiler.DictExpr:
		return &HDict{Keys: n.normalizeExprs(e.Keys), Values: n.normalizeExprs(e.Values)}
	case *compiler.TypedValue:
		h := &HTypedValue{TypeName: e.TypeName}
		for _, f := range e.Fields {
			h.Fields = append(h.Fields, f.Name)
			h.Values = append(h.Values, n.normalizeExpr(f.Value))
		}
		return h
	case *compiler.Index:
		return &HIndex{Target: n.normalizeExpr(e.Target), Index: n.normalizeExpr(e.Index), Keyed: e.Keyed}
	case *compiler.Field:
		return &HField{Target: n.normalizeExpr(e.Target), Name: e.Name}
	case *compiler.InterpolatedString:
		h := &HInterpolated{}
		for _, part := range e.Parts {
			h.Texts = append(h.Texts, part.Text)
			if part.Expr != nil {
				h.Exprs = append(h.Exprs, n.normalizeExpr(part.Expr))
			} else {
				h.Exprs = append(h.Exprs, nil)
			}
		}
		return h
	case *compiler.Assign:
		h := &HAssign{Target: n.lookup(e.Name), Field: e.Field, Keyed: e.Keyed}
		if h.Target == nil {
			h.Target = &HLocalRef{ScopeDepth: 0xFFFF, SlotIndex: 0xFFFF}
		}
		if e.Index != nil {
			h.Index = n.normalizeExpr(e.Index)
		}
		h.Value = n.normalizeExpr(e.Value)
		return h
	default:
		// Unknown expression type; should not happen
		return &HNullLiteral{}
	}
}

func (n *normalizer) normalizeExprs(exprs []compiler.Expr) []HNode {
	out := make([]HNode, len(exprs))
	for i, e := range exprs {
		out[i] = n.normalizeExpr(e)
	}
	return out
}

func (n *normalizer) normalizeVariable(v *compiler.Variable) HNode {
	switch v.Resolved {
	case compiler.ResolveGlobal:
		return &HGlobalRef{Key: v.Name}
	case compiler.ResolveFunction:
		return &HGlobalRef{Key: bytecode.GlobalKey(compiler.CanonicalName(v.Name))}
	case compiler.ResolveCall:
		return &HGlobalRef{Key: bytecode.GlobalKey(compiler.CanonicalName(v.Name)), Call: true}
	}
	if ref := n.lookup(v.Name); ref != nil {
		return ref
	}
	return &HGlobalRef{Key: v.Name}
}

func normalizeValue(v bytecode.Value) HNode {
	switch v.Kind {
	case bytecode.KindInteger:
		return &HIntLiteral{Value: v.Int}
	case bytecode.KindFloat:
		return &HFloatLiteral{Value: v.Float}
	case bytecode.KindString:
		return &HStringLiteral{Value: v.Str}
	case bytecode.KindBoolean:
		return &HBoolLiteral{Value: v.Bool}
	}
	return &HNullLiteral{}
}
