package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Token types for the Runa lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Literals
	TokenInteger    // 42, 1_000
	TokenFloat      // 3.14
	TokenString     // "hello {name}" (raw body, escapes unprocessed)
	TokenIdentifier // total, AddNumbers
	TokenAnnotation // @Reasoning: ... @End_Reasoning (Literal is the name, Body the content)

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenColon    // :
	TokenDot      // .

	// Symbolic operators
	TokenPlus         // +
	TokenMinus        // -
	TokenStar         // *
	TokenSlash        // /
	TokenPercent      // %
	TokenCaret        // ^
	TokenEqualEqual   // ==
	TokenBangEqual    // !=
	TokenLess         // <
	TokenGreater      // >
	TokenLessEqual    // <=
	TokenGreaterEqual // >=

	// Natural-language operators
	TokenPlusWord           // plus
	TokenMinusWord          // minus
	TokenMultipliedBy       // multiplied by
	TokenDividedBy          // divided by
	TokenModuloWord         // modulo
	TokenPowerOf            // to the power of
	TokenJoinedWith         // joined with, followed by, concatenated with
	TokenIsEqualTo          // is equal to
	TokenIsNotEqualTo       // is not equal to
	TokenIsGreaterThan      // is greater than
	TokenIsLessThan         // is less than
	TokenIsGreaterOrEqualTo // is greater than or equal to
	TokenIsLessOrEqualTo    // is less than or equal to

	// Keywords (case-insensitive)
	TokenLet
	TokenBe
	TokenSet
	TokenTo
	TokenIf
	TokenOtherwise
	TokenEnd
	TokenWhile
	TokenFor
	TokenEach
	TokenIn
	TokenFrom
	TokenBy
	TokenProcess
	TokenCalled
	TokenThat
	TokenTakes
	TokenReturns
	TokenReturn
	TokenAs
	TokenAnd
	TokenOr
	TokenNot
	TokenPrint
	TokenDisplay
	TokenTrue
	TokenFalse
	TokenNull
	TokenType_
	TokenEnum
	TokenMatch
	TokenWhen
	TokenContains
	TokenContaining
	TokenOf
	TokenWith
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "newline",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenAnnotation: "ANNOTATION",

	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenComma:    ",",
	TokenColon:    ":",
	TokenDot:      ".",

	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenPercent:      "%",
	TokenCaret:        "^",
	TokenEqualEqual:   "==",
	TokenBangEqual:    "!=",
	TokenLess:         "<",
	TokenGreater:      ">",
	TokenLessEqual:    "<=",
	TokenGreaterEqual: ">=",

	TokenPlusWord:           "plus",
	TokenMinusWord:          "minus",
	TokenMultipliedBy:       "multiplied by",
	TokenDividedBy:          "divided by",
	TokenModuloWord:         "modulo",
	TokenPowerOf:            "to the power of",
	TokenJoinedWith:         "joined with",
	TokenIsEqualTo:          "is equal to",
	TokenIsNotEqualTo:       "is not equal to",
	TokenIsGreaterThan:      "is greater than",
	TokenIsLessThan:         "is less than",
	TokenIsGreaterOrEqualTo: "is greater than or equal to",
	TokenIsLessOrEqualTo:    "is less than or equal to",

	TokenLet:        "Let",
	TokenBe:         "be",
	TokenSet:        "Set",
	TokenTo:         "to",
	TokenIf:         "If",
	TokenOtherwise:  "Otherwise",
	TokenEnd:        "End",
	TokenWhile:      "While",
	TokenFor:        "For",
	TokenEach:       "each",
	TokenIn:         "in",
	TokenFrom:       "from",
	TokenBy:         "by",
	TokenProcess:    "Process",
	TokenCalled:     "called",
	TokenThat:       "that",
	TokenTakes:      "takes",
	TokenReturns:    "returns",
	TokenReturn:     "Return",
	TokenAs:         "as",
	TokenAnd:        "and",
	TokenOr:         "or",
	TokenNot:        "not",
	TokenPrint:      "Print",
	TokenDisplay:    "Display",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenNull:       "null",
	TokenType_:      "Type",
	TokenEnum:       "Enum",
	TokenMatch:      "Match",
	TokenWhen:       "When",
	TokenContains:   "contains",
	TokenContaining: "containing",
	TokenOf:         "of",
	TokenWith:       "with",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenLet && t <= TokenWith
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Body    string   // annotation content; empty for other tokens
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "newline"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// describe renders a token for "Expected X, got Y" messages.
func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenNewline:
		return "end of line"
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	case TokenInteger, TokenFloat:
		return fmt.Sprintf("number %s", t.Literal)
	case TokenIdentifier:
		return fmt.Sprintf("identifier '%s'", t.Literal)
	}
	return fmt.Sprintf("'%s'", t.Literal)
}

// is reports whether the token is the given word, ignoring case. Contextual
// words such as "list" or "the" are identifiers, not keywords.
func (t Token) is(word string) bool {
	return (t.Type == TokenIdentifier || t.Type.IsKeyword()) && strings.EqualFold(t.Literal, word)
}

// Reserved words mapped to their token types. Keys are lower case.
var reservedWords = map[string]TokenType{
	"let":        TokenLet,
	"be":         TokenBe,
	"set":        TokenSet,
	"to":         TokenTo,
	"if":         TokenIf,
	"otherwise":  TokenOtherwise,
	"else":       TokenOtherwise,
	"end":        TokenEnd,
	"while":      TokenWhile,
	"for":        TokenFor,
	"each":       TokenEach,
	"in":         TokenIn,
	"from":       TokenFrom,
	"by":         TokenBy,
	"process":    TokenProcess,
	"called":     TokenCalled,
	"that":       TokenThat,
	"takes":      TokenTakes,
	"returns":    TokenReturns,
	"return":     TokenReturn,
	"as":         TokenAs,
	"and":        TokenAnd,
	"or":         TokenOr,
	"not":        TokenNot,
	"print":      TokenPrint,
	"display":    TokenDisplay,
	"true":       TokenTrue,
	"false":      TokenFalse,
	"null":       TokenNull,
	"nothing":    TokenNull,
	"type":       TokenType_,
	"enum":       TokenEnum,
	"match":      TokenMatch,
	"when":       TokenWhen,
	"contains":   TokenContains,
	"containing": TokenContaining,
	"of":         TokenOf,
	"with":       TokenWith,
}

// Keywords returns the reserved words in sorted order, capitalised the way
// programs usually spell them.
func Keywords() []string {
	out := make([]string, 0, len(reservedWords))
	for w := range reservedWords {
		out = append(out, strings.ToUpper(w[:1])+w[1:])
	}
	sort.Strings(out)
	return out
}

// LookupIdent returns the keyword token type for ident, or TokenIdentifier.
func LookupIdent(ident string) TokenType {
	if tok, ok := reservedWords[strings.ToLower(ident)]; ok {
		return tok
	}
	return TokenIdentifier
}

// Multi-word operators, longest first so that maximal munch picks
// "is greater than or equal to" over "is greater than".
var wordOperators = []struct {
	words []string
	typ   TokenType
}{
	{[]string{"is", "greater", "than", "or", "equal", "to"}, TokenIsGreaterOrEqualTo},
	{[]string{"is", "less", "than", "or", "equal", "to"}, TokenIsLessOrEqualTo},
	{[]string{"is", "not", "equal", "to"}, TokenIsNotEqualTo},
	{[]string{"to", "the", "power", "of"}, TokenPowerOf},
	{[]string{"is", "greater", "than"}, TokenIsGreaterThan},
	{[]string{"is", "less", "than"}, TokenIsLessThan},
	{[]string{"is", "equal", "to"}, TokenIsEqualTo},
	{[]string{"multiplied", "by"}, TokenMultipliedBy},
	{[]string{"divided", "by"}, TokenDividedBy},
	{[]string{"joined", "with"}, TokenJoinedWith},
	{[]string{"followed", "by"}, TokenJoinedWith},
	{[]string{"concatenated", "with"}, TokenJoinedWith},
	{[]string{"plus"}, TokenPlusWord},
	{[]string{"minus"}, TokenMinusWord},
	{[]string{"modulo"}, TokenModuloWord},
}
