package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Runa syntax
// ---------------------------------------------------------------------------

// MaxNestingDepth bounds statement and expression recursion.
const MaxNestingDepth = 1000

// Parser parses a token stream into an AST. It stops at the first error.
type Parser struct {
	tokens  []Token
	current int
	depth   int
}

// bailout carries a parse error up the recursive descent to ParseProgram.
type bailout struct {
	err *ParseError
}

// NewParser creates a new parser over tokens, which must end in TokenEOF.
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		tokens = append(tokens, Token{Type: TokenEOF})
	}
	return &Parser{tokens: tokens}
}

// Parse tokenizes and parses src.
func Parse(src string) (*Program, error) {
	tokens, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).ParseProgram()
}

// ParseProgram parses every statement up to EOF.
func (p *Parser) ParseProgram() (prog *Program, err error) {
	defer p.recoverError(&err)

	prog = &Program{}
	p.skipNewlines()
	for !p.check(TokenEOF) {
		prog.Statements = append(prog.Statements, p.statement())
		p.endOfStatement()
		p.skipNewlines()
	}
	return prog, nil
}

// ParseExpression parses a single expression that must span all tokens.
func (p *Parser) ParseExpression() (expr Expr, err error) {
	defer p.recoverError(&err)

	p.skipNewlines()
	expr = p.expression()
	p.skipNewlines()
	if !p.check(TokenEOF) {
		p.failExpected("end of expression")
	}
	return expr, nil
}

func (p *Parser) recoverError(err *error) {
	if r := recover(); r != nil {
		b, ok := r.(bailout)
		if !ok {
			panic(r)
		}
		*err = b.err
	}
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *Parser) peek() Token {
	return p.tokens[p.current]
}

func (p *Parser) peekAt(offset int) Token {
	if i := p.current + offset; i < len(p.tokens) {
		return p.tokens[i]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.current]
	if tok.Type != TokenEOF {
		p.current++
	}
	return tok
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) match(types ...TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

// expect consumes a token of type t or fails with "Expected what, got ...".
func (p *Parser) expect(t TokenType, what string) Token {
	if p.check(t) {
		return p.advance()
	}
	p.failExpected(what)
	return Token{}
}

func (p *Parser) skipNewlines() {
	for p.check(TokenNewline) {
		p.advance()
	}
}

func (p *Parser) endOfStatement() {
	if p.check(TokenEOF) {
		return
	}
	p.expect(TokenNewline, "end of line")
}

func (p *Parser) failExpected(what string) {
	tok := p.peek()
	p.failAt(tok, fmt.Sprintf("Expected %s, got %s", what, tok.describe()))
}

func (p *Parser) failAt(tok Token, msg string) {
	panic(bailout{&ParseError{
		Message:    msg,
		Pos:        tok.Pos,
		Incomplete: tok.Type == TokenEOF,
	}})
}

func (p *Parser) enter() {
	p.depth++
	if p.depth > MaxNestingDepth {
		p.failAt(p.peek(), "maximum recursion depth exceeded")
	}
}

func (p *Parser) leave() {
	p.depth--
}

func spanOf(tok Token) Span {
	return Span{Start: tok.Pos, End: tok.Pos}
}

func (p *Parser) spanFrom(start Token) Span {
	end := start.Pos
	if p.current > 0 {
		end = p.tokens[p.current-1].Pos
	}
	return Span{Start: start.Pos, End: end}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) statement() Stmt {
	p.enter()
	defer p.leave()

	tok := p.peek()
	switch tok.Type {
	case TokenLet:
		return p.letStatement()
	case TokenSet:
		return p.setStatement()
	case TokenIf:
		return p.ifStatement()
	case TokenWhile:
		return p.whileStatement()
	case TokenFor:
		return p.forStatement()
	case TokenProcess:
		return p.processStatement()
	case TokenType_:
		return p.typeStatement()
	case TokenEnum:
		return p.enumStatement()
	case TokenMatch:
		return p.matchStatement()
	case TokenPrint, TokenDisplay:
		p.advance()
		value := p.expression()
		return &Print{SpanVal: p.spanFrom(tok), Value: value, Display: tok.Type == TokenDisplay}
	case TokenReturn:
		return p.returnStatement()
	case TokenAnnotation:
		p.advance()
		return &Annotation{SpanVal: spanOf(tok), Kind: tok.Literal, Content: tok.Body}
	case TokenEnd, TokenOtherwise, TokenWhen:
		p.failExpected("statement")
	}

	expr := p.expression()
	return &ExprStmt{SpanVal: p.spanFrom(tok), Expr: expr}
}

// block parses statements until one of the stop tokens.
func (p *Parser) block(stop ...TokenType) *Block {
	start := p.peek()
	b := &Block{}
	for {
		p.skipNewlines()
		if p.check(TokenEOF) {
			p.failExpected(fmt.Sprintf("'%s'", stop[len(stop)-1]))
		}
		for _, t := range stop {
			if p.check(t) {
				b.SpanVal = p.spanFrom(start)
				return b
			}
		}
		b.Statements = append(b.Statements, p.statement())
		if !p.check(TokenEOF) {
			p.endOfStatement()
		}
	}
}

// expectEnd consumes "End <kw>".
func (p *Parser) expectEnd(kw TokenType) {
	p.expect(TokenEnd, fmt.Sprintf("'End %s'", kw))
	if !p.check(kw) {
		tok := p.peek()
		if tok.Type == TokenEOF {
			p.failExpected(fmt.Sprintf("'End %s'", kw))
		}
		p.failAt(tok, fmt.Sprintf("Expected 'End %s', got 'End %s'", kw, tok.Literal))
	}
	p.advance()
}

func (p *Parser) blockOpen() {
	p.expect(TokenColon, "':'")
}

func (p *Parser) letStatement() Stmt {
	start := p.advance()
	name := p.expect(TokenIdentifier, "variable name")
	var declared *RunaType
	if p.match(TokenAs) {
		t := p.typeAnnotation()
		declared = &t
	}
	p.expect(TokenBe, "'be'")
	value := p.expression()
	return &Let{SpanVal: p.spanFrom(start), Name: name.Literal, Declared: declared, Value: value}
}

func (p *Parser) setStatement() Stmt {
	start := p.advance()
	name := p.expect(TokenIdentifier, "variable name")
	assign := &Assign{Name: name.Literal}
	switch {
	case p.match(TokenLBracket):
		assign.Index = p.expression()
		p.expect(TokenRBracket, "']'")
	case p.match(TokenDot):
		assign.Field = p.expect(TokenIdentifier, "field name").Literal
	}
	p.expect(TokenTo, "'to'")
	assign.Value = p.expression()
	assign.SpanVal = p.spanFrom(start)
	return &ExprStmt{SpanVal: assign.SpanVal, Expr: assign}
}

func (p *Parser) ifStatement() Stmt {
	stmt := p.ifChain()
	p.expectEnd(TokenIf)
	return stmt
}

// ifChain parses "If c: ... [Otherwise If c: ...]* [Otherwise: ...]"
// without the closing "End If".
func (p *Parser) ifChain() *If {
	start := p.advance() // If
	cond := p.expression()
	p.blockOpen()
	stmt := &If{Condition: cond, Then: p.block(TokenOtherwise, TokenEnd)}

	if p.check(TokenOtherwise) {
		if p.peekAt(1).Type == TokenIf {
			p.advance() // Otherwise
			stmt.Else = p.ifChain()
		} else {
			p.advance()
			p.blockOpen()
			stmt.Else = p.block(TokenEnd)
		}
	}
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) whileStatement() Stmt {
	start := p.advance()
	cond := p.expression()
	p.blockOpen()
	body := p.block(TokenEnd)
	p.expectEnd(TokenWhile)
	return &While{SpanVal: p.spanFrom(start), Condition: cond, Body: body}
}

func (p *Parser) forStatement() Stmt {
	start := p.advance()
	stmt := &For{}
	if p.match(TokenEach) {
		stmt.Var = p.expect(TokenIdentifier, "loop variable").Literal
		p.expect(TokenIn, "'in'")
		stmt.Source = p.expression()
	} else {
		stmt.Var = p.expect(TokenIdentifier, "'each' or loop variable").Literal
		p.expect(TokenFrom, "'from'")
		stmt.Source = p.expression()
		p.expect(TokenTo, "'to'")
		stmt.End = p.expression()
		if p.match(TokenBy) {
			stmt.Step = p.expression()
		}
	}
	p.blockOpen()
	stmt.Body = p.block(TokenEnd)
	p.expectEnd(TokenFor)
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) processStatement() Stmt {
	start := p.advance()
	p.expect(TokenCalled, "'called'")
	nameTok := p.expect(TokenString, "process name in quotes")
	name, err := unescape(nameTok.Literal)
	if err != nil {
		p.failAt(nameTok, err.Error())
	}
	name = CanonicalName(name)
	if name == "" {
		p.failAt(nameTok, "Process name cannot be empty")
	}

	stmt := &Process{Name: name}
	if p.match(TokenThat) {
		p.expect(TokenTakes, "'takes'")
		seen := map[string]bool{}
		for {
			paramTok := p.expect(TokenIdentifier, "parameter name")
			if seen[paramTok.Literal] {
				p.failAt(paramTok, fmt.Sprintf("Duplicate parameter name: %s", paramTok.Literal))
			}
			seen[paramTok.Literal] = true
			param := Param{Name: paramTok.Literal, Type: AnyType}
			if p.match(TokenAs) {
				param.Type = p.typeAnnotation()
			}
			stmt.Params = append(stmt.Params, param)
			if !p.match(TokenComma, TokenAnd) {
				break
			}
			p.match(TokenAnd) // ", and"
		}
	}
	if p.match(TokenReturns) {
		t := p.typeAnnotation()
		stmt.Declared = &t
	}
	p.blockOpen()
	stmt.Body = p.block(TokenEnd)
	p.expectEnd(TokenProcess)
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) typeStatement() Stmt {
	start := p.advance()
	p.expect(TokenCalled, "'called'")
	name := p.quotedName()
	p.blockOpen()

	stmt := &TypeDef{Name: name}
	seen := map[string]bool{}
	for {
		p.skipNewlines()
		if p.check(TokenEnd) {
			break
		}
		fieldTok := p.expect(TokenIdentifier, "field name or 'End Type'")
		if seen[fieldTok.Literal] {
			p.failAt(fieldTok, fmt.Sprintf("Duplicate field name: %s", fieldTok.Literal))
		}
		seen[fieldTok.Literal] = true
		p.expect(TokenAs, "'as'")
		stmt.Fields = append(stmt.Fields, TypeField{Name: fieldTok.Literal, Type: p.typeAnnotation()})
		p.match(TokenComma)
	}
	p.expectEnd(TokenType_)
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) enumStatement() Stmt {
	start := p.advance()
	p.expect(TokenCalled, "'called'")
	name := p.quotedName()
	p.blockOpen()

	stmt := &EnumDef{Name: name}
	for {
		p.skipNewlines()
		if p.check(TokenEnd) && len(stmt.Variants) > 0 {
			break
		}
		variant := p.expect(TokenIdentifier, "enum variant")
		stmt.Variants = append(stmt.Variants, variant.Literal)
		p.match(TokenComma)
	}
	p.expectEnd(TokenEnum)
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) matchStatement() Stmt {
	start := p.advance()
	subject := p.expression()
	p.blockOpen()
	p.skipNewlines()

	stmt := &Match{Subject: subject}
	for p.check(TokenWhen) {
		p.advance()
		pattern := p.expression()
		p.blockOpen()
		body := p.block(TokenWhen, TokenOtherwise, TokenEnd)
		stmt.Cases = append(stmt.Cases, WhenCase{Pattern: pattern, Body: body})
	}
	if len(stmt.Cases) == 0 {
		p.failExpected("'When'")
	}
	if p.match(TokenOtherwise) {
		p.blockOpen()
		stmt.Otherwise = p.block(TokenEnd)
	}
	p.expectEnd(TokenMatch)
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) returnStatement() Stmt {
	start := p.advance()
	stmt := &Return{}
	switch p.peek().Type {
	case TokenNewline, TokenEOF, TokenEnd, TokenOtherwise, TokenWhen:
	default:
		stmt.Value = p.expression()
	}
	stmt.SpanVal = p.spanFrom(start)
	return stmt
}

func (p *Parser) quotedName() string {
	tok := p.expect(TokenString, "name in quotes")
	name, err := unescape(tok.Literal)
	if err != nil {
		p.failAt(tok, err.Error())
	}
	if strings.TrimSpace(name) == "" {
		p.failAt(tok, "name cannot be empty")
	}
	return strings.TrimSpace(name)
}

// typeAnnotation parses Integer, List of T, Dictionary of K to V, or a
// declared type name.
func (p *Parser) typeAnnotation() RunaType {
	tok := p.peek()
	if tok.Type != TokenIdentifier && tok.Type != TokenNull {
		p.failExpected("type name")
	}
	p.advance()

	switch strings.ToLower(tok.Literal) {
	case "list", "array":
		if p.match(TokenOf) {
			return ListOf(p.typeAnnotation())
		}
	case "dictionary":
		if p.match(TokenOf) {
			key := p.typeAnnotation()
			p.expect(TokenTo, "'to'")
			return DictOf(key, p.typeAnnotation())
		}
	}
	return TypeFromName(tok.Literal)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) expression() Expr {
	p.enter()
	defer p.leave()
	return p.or()
}

func (p *Parser) binaryLoop(next func() Expr, ops ...TokenType) Expr {
	left := next()
	for {
		tok := p.peek()
		matched := false
		for _, op := range ops {
			if tok.Type == op {
				matched = true
				break
			}
		}
		if !matched {
			return left
		}
		p.advance()
		right := next()
		left = &Binary{SpanVal: Span{Start: left.Span().Start, End: right.Span().End}, Op: tok.Type, Left: left, Right: right}
	}
}

func (p *Parser) or() Expr {
	return p.binaryLoop(p.and, TokenOr)
}

func (p *Parser) and() Expr {
	return p.binaryLoop(p.comparison, TokenAnd)
}

func (p *Parser) comparison() Expr {
	return p.binaryLoop(p.concatenation,
		TokenEqualEqual, TokenBangEqual, TokenLess, TokenGreater, TokenLessEqual, TokenGreaterEqual,
		TokenIsEqualTo, TokenIsNotEqualTo, TokenIsLessThan, TokenIsGreaterThan,
		TokenIsLessOrEqualTo, TokenIsGreaterOrEqualTo, TokenContains)
}

func (p *Parser) concatenation() Expr {
	return p.binaryLoop(p.additive, TokenJoinedWith)
}

func (p *Parser) additive() Expr {
	return p.binaryLoop(p.term, TokenPlus, TokenMinus, TokenPlusWord, TokenMinusWord)
}

func (p *Parser) term() Expr {
	return p.binaryLoop(p.unary, TokenStar, TokenSlash, TokenPercent,
		TokenMultipliedBy, TokenDividedBy, TokenModuloWord)
}

func (p *Parser) unary() Expr {
	p.enter()
	defer p.leave()

	tok := p.peek()
	switch tok.Type {
	case TokenNot:
		p.advance()
		operand := p.unary()
		return &Unary{SpanVal: p.spanFrom(tok), Op: UnaryNot, Operand: operand}
	case TokenMinus:
		p.advance()
		operand := p.unary()
		if lit, ok := operand.(*Literal); ok {
			switch lit.Value.Kind {
			case bytecode.KindInteger:
				return &Literal{SpanVal: p.spanFrom(tok), Value: bytecode.IntegerValue(-lit.Value.Int)}
			case bytecode.KindFloat:
				return &Literal{SpanVal: p.spanFrom(tok), Value: bytecode.FloatValue(-lit.Value.Float)}
			}
		}
		return &Unary{SpanVal: p.spanFrom(tok), Op: UnaryNegate, Operand: operand}
	}
	return p.power()
}

func (p *Parser) power() Expr {
	base := p.postfix()
	if tok := p.peek(); tok.Type == TokenCaret || tok.Type == TokenPowerOf {
		p.advance()
		exponent := p.unary()
		return &Binary{SpanVal: Span{Start: base.Span().Start, End: exponent.Span().End}, Op: tok.Type, Left: base, Right: exponent}
	}
	return base
}

func (p *Parser) postfix() Expr {
	p.enter()
	defer p.leave()
	expr := p.primary()
	for {
		start := p.peek()
		switch {
		case p.match(TokenLParen):
			var args []Expr
			if !p.check(TokenRParen) {
				for {
					args = append(args, p.expression())
					if !p.match(TokenComma) {
						break
					}
				}
			}
			p.expect(TokenRParen, "')' after arguments")
			expr = &Call{SpanVal: Span{Start: expr.Span().Start, End: start.Pos}, Callee: expr, Args: args}
		case p.match(TokenLBracket):
			index := p.expression()
			p.expect(TokenRBracket, "']'")
			expr = &Index{SpanVal: Span{Start: expr.Span().Start, End: start.Pos}, Target: expr, Index: index}
		case p.match(TokenDot):
			name := p.expect(TokenIdentifier, "field name after '.'")
			expr = &Field{SpanVal: Span{Start: expr.Span().Start, End: name.Pos}, Target: expr, Name: name.Literal}
		default:
			return expr
		}
	}
}

func (p *Parser) primary() Expr {
	tok := p.peek()
	switch tok.Type {
	case TokenInteger:
		p.advance()
		n, err := strconv.ParseInt(strings.ReplaceAll(tok.Literal, "_", ""), 10, 64)
		if err != nil {
			p.failAt(tok, fmt.Sprintf("invalid integer literal '%s'", tok.Literal))
		}
		return &Literal{SpanVal: spanOf(tok), Value: bytecode.IntegerValue(n)}

	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(strings.ReplaceAll(tok.Literal, "_", ""), 64)
		if err != nil {
			p.failAt(tok, "invalid float literal")
		}
		return &Literal{SpanVal: spanOf(tok), Value: bytecode.FloatValue(f)}

	case TokenString:
		p.advance()
		return p.stringLiteral(tok)

	case TokenTrue, TokenFalse:
		p.advance()
		return &Literal{SpanVal: spanOf(tok), Value: bytecode.BoolValue(tok.Type == TokenTrue)}

	case TokenNull:
		p.advance()
		return &Literal{SpanVal: spanOf(tok), Value: bytecode.Null}

	case TokenLParen:
		p.advance()
		inner := p.expression()
		p.expect(TokenRParen, "')' after expression")
		return &Grouping{SpanVal: p.spanFrom(tok), Inner: inner}

	case TokenLBracket:
		p.advance()
		list := &ListExpr{}
		if !p.check(TokenRBracket) {
			for {
				list.Elements = append(list.Elements, p.expression())
				if !p.match(TokenComma) {
					break
				}
			}
		}
		p.expect(TokenRBracket, "']' after list elements")
		list.SpanVal = p.spanFrom(tok)
		return list

	case TokenIdentifier:
		if expr := p.naturalPhrase(); expr != nil {
			return expr
		}
		p.advance()
		return &Variable{SpanVal: spanOf(tok), Name: tok.Literal}
	}

	p.failExpected("expression")
	return nil
}

// naturalPhrase parses the English-like literal and access forms that start
// with an ordinary word, or returns nil when the word is a plain variable.
func (p *Parser) naturalPhrase() Expr {
	tok := p.peek()
	next := p.peekAt(1)

	switch {
	case tok.is("a") || tok.is("an"):
		switch {
		case next.is("list") || next.is("array"):
			p.advance()
			p.advance()
			p.expect(TokenContaining, "'containing'")
			return p.naturalList(tok)
		case next.is("dictionary"):
			p.advance()
			p.advance()
			p.expect(TokenContaining, "'containing'")
			return p.naturalDict(tok)
		case next.is("value") && p.peekAt(2).Type == TokenOf:
			p.advance()
			p.advance()
			p.advance()
			return p.typedValue(tok)
		case next.is("empty"):
			kind := p.peekAt(2)
			if kind.is("list") || kind.is("array") {
				p.advance()
				p.advance()
				p.advance()
				return &ListExpr{SpanVal: p.spanFrom(tok)}
			}
			if kind.is("dictionary") {
				p.advance()
				p.advance()
				p.advance()
				return &DictExpr{SpanVal: p.spanFrom(tok)}
			}
		}

	case tok.is("the"):
		switch {
		case next.is("length") && p.peekAt(2).Type == TokenOf:
			p.current += 3
			return &Unary{SpanVal: p.spanFrom(tok), Op: UnaryLength, Operand: p.postfix()}
		case next.Type == TokenType_ && p.peekAt(2).Type == TokenOf:
			p.current += 3
			return &Unary{SpanVal: p.spanFrom(tok), Op: UnaryTypeOf, Operand: p.postfix()}
		case (next.is("first") || next.is("last")) && p.peekAt(2).is("item") && p.peekAt(3).Type == TokenOf:
			p.current += 4
			target := p.postfix()
			idx := int64(0)
			if next.is("last") {
				idx = -1
			}
			return &Index{SpanVal: p.spanFrom(tok), Target: target, Index: &Literal{SpanVal: spanOf(next), Value: bytecode.IntegerValue(idx)}}
		}

	case tok.is("item"):
		if next.Type == TokenInteger || next.Type == TokenIdentifier || next.Type == TokenLParen {
			p.advance()
			index := p.postfix()
			p.expect(TokenOf, "'of'")
			target := p.postfix()
			return &Index{SpanVal: p.spanFrom(tok), Target: target, Index: index}
		}
	}
	return nil
}

// naturalList parses "x, y and z" after "a list containing".
func (p *Parser) naturalList(start Token) Expr {
	list := &ListExpr{}
	if p.atPhraseEnd() {
		list.SpanVal = p.spanFrom(start)
		return list
	}
	for {
		list.Elements = append(list.Elements, p.comparison())
		if !p.listSeparator() {
			break
		}
	}
	list.SpanVal = p.spanFrom(start)
	return list
}

// naturalDict parses "[:] k as v, k as v and k as v" after
// "a dictionary containing".
func (p *Parser) naturalDict(start Token) Expr {
	dict := &DictExpr{}
	p.match(TokenColon)
	if p.atPhraseEnd() {
		dict.SpanVal = p.spanFrom(start)
		return dict
	}
	for {
		dict.Keys = append(dict.Keys, p.comparison())
		p.expect(TokenAs, "'as'")
		dict.Values = append(dict.Values, p.comparison())
		if !p.listSeparator() {
			break
		}
	}
	dict.SpanVal = p.spanFrom(start)
	return dict
}

// typedValue parses "type T [with f as v, ...]" after "a value of".
func (p *Parser) typedValue(start Token) Expr {
	p.expect(TokenType_, "'type'")
	name := p.expect(TokenIdentifier, "type name")
	tv := &TypedValue{TypeName: name.Literal}
	if p.match(TokenWith) {
		for {
			field := p.expect(TokenIdentifier, "field name")
			p.expect(TokenAs, "'as'")
			tv.Fields = append(tv.Fields, FieldInit{Name: field.Literal, Value: p.comparison()})
			if !p.listSeparator() {
				break
			}
		}
	}
	tv.SpanVal = p.spanFrom(start)
	return tv
}

// listSeparator consumes ",", "and" or ", and".
func (p *Parser) listSeparator() bool {
	if p.match(TokenComma) {
		p.match(TokenAnd)
		return true
	}
	return p.match(TokenAnd)
}

func (p *Parser) atPhraseEnd() bool {
	switch p.peek().Type {
	case TokenNewline, TokenEOF, TokenRParen, TokenRBracket:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// String literals
// ---------------------------------------------------------------------------

// stringLiteral decodes escapes and splits {expr} segments.
func (p *Parser) stringLiteral(tok Token) Expr {
	raw := tok.Literal
	if !strings.ContainsRune(raw, '{') {
		s, err := unescape(raw)
		if err != nil {
			p.failAt(tok, err.Error())
		}
		return &Literal{SpanVal: spanOf(tok), Value: bytecode.StringValue(s)}
	}

	interp := &InterpolatedString{SpanVal: spanOf(tok)}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			interp.Parts = append(interp.Parts, StringPart{Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '\\':
			if i+1 >= len(raw) {
				p.failAt(tok, "unterminated escape sequence")
			}
			r, ok := escapeChar(raw[i+1])
			if !ok {
				p.failAt(tok, fmt.Sprintf("invalid escape sequence '\\%c'", raw[i+1]))
			}
			text.WriteByte(r)
			i++
		case '{':
			end := matchingBrace(raw, i)
			if end < 0 {
				p.failAt(tok, "unterminated interpolation in string")
			}
			src := strings.TrimSpace(raw[i+1 : end])
			if src == "" {
				p.failAt(tok, "empty interpolation in string")
			}
			flush()
			interp.Parts = append(interp.Parts, StringPart{Expr: p.subExpression(tok, src)})
			i = end
		default:
			text.WriteByte(c)
		}
	}
	flush()

	// Escaped braces alone do not make an interpolation.
	if len(interp.Parts) <= 1 && (len(interp.Parts) == 0 || interp.Parts[0].Expr == nil) {
		text := ""
		if len(interp.Parts) == 1 {
			text = interp.Parts[0].Text
		}
		return &Literal{SpanVal: spanOf(tok), Value: bytecode.StringValue(text)}
	}
	return interp
}

// subExpression parses an interpolated segment, reporting errors at the
// string's line.
func (p *Parser) subExpression(tok Token, src string) Expr {
	tokens, err := NewLexer(src).Tokenize()
	if err != nil {
		p.failAt(tok, "in interpolation: "+err.(*ParseError).Message)
	}
	for i := range tokens {
		tokens[i].Pos = tok.Pos
	}
	sub := NewParser(tokens)
	sub.depth = p.depth
	expr, err := sub.ParseExpression()
	if err != nil {
		p.failAt(tok, "in interpolation: "+err.(*ParseError).Message)
	}
	return expr
}

func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func escapeChar(c byte) (byte, bool) {
	switch c {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\', '"', '\'', '{', '}':
		return c, true
	}
	return 0, false
}

// unescape decodes the escapes of a string body without interpolation.
func unescape(raw string) (string, error) {
	if !strings.ContainsRune(raw, '\\') {
		return raw, nil
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' {
			b.WriteByte(raw[i])
			continue
		}
		if i+1 >= len(raw) {
			return "", fmt.Errorf("unterminated escape sequence")
		}
		r, ok := escapeChar(raw[i+1])
		if !ok {
			return "", fmt.Errorf("invalid escape sequence '\\%c'", raw[i+1])
		}
		b.WriteByte(r)
		i++
	}
	return b.String(), nil
}
