package compiler

import "fmt"

// ParseError reports malformed source. Parsing stops at the first one.
type ParseError struct {
	Message string
	Pos     Position

	// Incomplete is set when the input ended inside an open construct, so
	// a REPL can ask for another line instead of reporting the error.
	Incomplete bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Message)
}

// SemanticError reports a static type or scope violation.
type SemanticError struct {
	Message string
	Pos     Position
}

func (e *SemanticError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Message)
	}
	return e.Message
}

// CodegenError reports a compiler-internal failure or an exceeded bytecode
// limit.
type CodegenError struct {
	Message string
	Pos     Position
	Cause   error
}

func (e *CodegenError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Message)
	}
	return e.Message
}

func (e *CodegenError) Unwrap() error {
	return e.Cause
}
