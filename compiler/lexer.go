package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Runa syntax
// ---------------------------------------------------------------------------

// Lexer tokenizes Runa source code. Newlines are significant and are
// reported as single TokenNewline tokens, except inside parentheses and
// brackets where they are treated as whitespace.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
	nesting int  // open ( and [ count
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// advanceTo consumes characters until pos reaches offset.
func (l *Lexer) advanceTo(offset int) {
	for l.pos < offset && l.ch != 0 {
		l.readChar()
	}
}

// Tokenize returns every token up to and including EOF, or the first
// lexical error.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return tokens, &ParseError{Message: tok.Literal, Pos: tok.Pos}
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipSpaceAndComments()

	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case l.ch == '\n':
		if l.nesting > 0 {
			l.readChar()
			return l.NextToken()
		}
		// Collapse blank lines and comment-only lines into one separator.
		for l.ch == '\n' {
			l.readChar()
			l.skipSpaceAndComments()
		}
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}

	case l.ch == '(':
		l.nesting++
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		if l.nesting > 0 {
			l.nesting--
		}
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '[':
		l.nesting++
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		if l.nesting > 0 {
			l.nesting--
		}
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == ':':
		l.readChar()
		return Token{Type: TokenColon, Literal: ":", Pos: pos}

	case l.ch == '.':
		l.readChar()
		return Token{Type: TokenDot, Literal: ".", Pos: pos}

	case l.ch == '"' || l.ch == '\'':
		return l.readString(pos)

	case l.ch == '@':
		return l.readAnnotation(pos)

	case isDigit(l.ch):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readWord(pos)

	default:
		return l.readSymbol(pos)
	}
}

// skipSpaceAndComments skips blanks and "Note:" comments, stopping at a
// newline.
func (l *Lexer) skipSpaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.atNoteComment() {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		return
	}
}

func (l *Lexer) atNoteComment() bool {
	end := l.pos + len("note:")
	if end > len(l.input) {
		return false
	}
	return strings.EqualFold(l.input[l.pos:end], "note:")
}

// readSymbol reads a one or two character operator.
func (l *Lexer) readSymbol(pos Position) Token {
	ch := l.ch
	next := l.peekChar()

	two := func(typ TokenType, lit string) Token {
		l.readChar()
		l.readChar()
		return Token{Type: typ, Literal: lit, Pos: pos}
	}
	one := func(typ TokenType) Token {
		l.readChar()
		return Token{Type: typ, Literal: string(ch), Pos: pos}
	}

	switch ch {
	case '+':
		return one(TokenPlus)
	case '-':
		return one(TokenMinus)
	case '*':
		return one(TokenStar)
	case '/':
		return one(TokenSlash)
	case '%':
		return one(TokenPercent)
	case '^':
		return one(TokenCaret)
	case '=':
		if next == '=' {
			return two(TokenEqualEqual, "==")
		}
	case '!':
		if next == '=' {
			return two(TokenBangEqual, "!=")
		}
	case '<':
		if next == '=' {
			return two(TokenLessEqual, "<=")
		}
		return one(TokenLess)
	case '>':
		if next == '=' {
			return two(TokenGreaterEqual, ">=")
		}
		return one(TokenGreater)
	}

	l.readChar()
	return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character '%c'", ch), Pos: pos}
}

// readWord reads a multi-word operator, a keyword or an identifier.
func (l *Lexer) readWord(pos Position) Token {
	for _, op := range wordOperators {
		if end, ok := l.matchWords(op.words); ok {
			lit := l.input[l.pos:end]
			l.advanceTo(end)
			return Token{Type: op.typ, Literal: lit, Pos: pos}
		}
	}

	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	return Token{Type: LookupIdent(lit), Literal: lit, Pos: pos}
}

// matchWords reports whether words appear at the current position,
// case-insensitively, separated by blanks and ending at a word boundary.
// It returns the end offset of the match.
func (l *Lexer) matchWords(words []string) (int, bool) {
	i := l.pos
	for n, w := range words {
		if n > 0 {
			j := i
			for j < len(l.input) && (l.input[j] == ' ' || l.input[j] == '\t') {
				j++
			}
			if j == i {
				return 0, false
			}
			i = j
		}
		end := i + len(w)
		if end > len(l.input) || !strings.EqualFold(l.input[i:end], w) {
			return 0, false
		}
		i = end
	}
	if i < len(l.input) {
		r, _ := utf8.DecodeRuneInString(l.input[i:])
		if isLetter(r) || isDigit(r) || r == '_' {
			return 0, false
		}
	}
	return i, true
}

// readNumber reads an integer or float literal. Underscores are kept in the
// literal and stripped by the parser.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	typ := TokenInteger
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		typ = TokenFloat
		l.readChar()
		for isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		if l.ch == '.' && isDigit(l.peekChar()) {
			for l.ch == '.' || isDigit(l.ch) {
				l.readChar()
			}
			return Token{Type: TokenError, Literal: "invalid float literal", Pos: pos}
		}
	}
	if isLetter(l.ch) {
		for isLetter(l.ch) || isDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenError, Literal: fmt.Sprintf("invalid number literal '%s'", l.input[start:l.pos]), Pos: pos}
	}
	return Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a string literal delimited by " or '. The literal keeps
// escapes and {interpolation} segments verbatim; braces may nest quotes.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar() // consume opening quote

	start := l.pos
	depth := 0
	for {
		switch {
		case l.ch == 0:
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case l.ch == '\n' && depth == 0:
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case l.ch == '\\':
			l.readChar()
			if l.ch == 0 {
				return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
			}
		case l.ch == '{':
			depth++
		case l.ch == '}' && depth > 0:
			depth--
		case l.ch == quote && depth == 0:
			lit := l.input[start:l.pos]
			l.readChar() // consume closing quote
			return Token{Type: TokenString, Literal: lit, Pos: pos}
		}
		l.readChar()
	}
}

// readAnnotation reads "@Name: content @End_Name" as a single token.
func (l *Lexer) readAnnotation(pos Position) Token {
	l.readChar() // consume @

	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	name := l.input[start:l.pos]
	if name == "" {
		return Token{Type: TokenError, Literal: "unexpected character '@'", Pos: pos}
	}
	if strings.HasPrefix(name, "End_") {
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected @%s without opening annotation", name), Pos: pos}
	}
	if l.ch == ':' {
		l.readChar()
	}

	closing := "@End_" + name
	idx := strings.Index(l.input[l.pos:], closing)
	if idx < 0 {
		return Token{Type: TokenError, Literal: fmt.Sprintf("unterminated annotation @%s", name), Pos: pos}
	}
	body := l.input[l.pos : l.pos+idx]
	l.advanceTo(l.pos + idx + len(closing))
	return Token{Type: TokenAnnotation, Literal: name, Body: strings.TrimSpace(body), Pos: pos}
}

// ---------------------------------------------------------------------------
// Character classification helpers
// ---------------------------------------------------------------------------

func isLetter(ch rune) bool {
	return unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
