package bytecode

import (
	"fmt"
	"strings"
)

// FrameInfo describes one active call frame at the time of a runtime error.
type FrameInfo struct {
	Function string
	Offset   int
	Line     int
}

// RuntimeError is returned by Interpret when execution fails: a type
// mismatch, stack underflow, unknown opcode, division by zero, an
// out-of-bounds list index or frame overflow.
type RuntimeError struct {
	Message string
	Frame   FrameInfo   // Innermost frame
	Stack   []FrameInfo // Innermost first
	Cause   error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString("runtime error: ")
	b.WriteString(e.Message)
	if e.Frame.Line > 0 {
		fmt.Fprintf(&b, " [line %d in %s]", e.Frame.Line, e.Frame.Function)
	} else if e.Frame.Function != "" {
		fmt.Fprintf(&b, " [offset %d in %s]", e.Frame.Offset, e.Frame.Function)
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Backtrace renders the frame stack, innermost first.
func (e *RuntimeError) Backtrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		if f.Line > 0 {
			fmt.Fprintf(&b, "  at %s (line %d)\n", f.Function, f.Line)
		} else {
			fmt.Fprintf(&b, "  at %s (offset %04X)\n", f.Function, f.Offset)
		}
	}
	return b.String()
}

// stackUnderflow is raised by pop on an empty stack and converted into a
// RuntimeError by the dispatch loop.
type stackUnderflow struct{}
