package compiler

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// FuzzLexer: ensure the lexer never panics on arbitrary input.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	seeds := []string{
		// Symbols
		`( ) [ ] , : . + - * / % ^ == != < > <= >=`,
		// Numbers
		`42`, `0`, `1_000`, `3.14`, `1.2.3`, `12abc`,
		// Strings
		`"hello"`, `'single'`, `""`, `"say \"hi\""`, `"{a + b}"`, `"open`,
		// Keywords and word operators
		`Let x be 1`, `LET X BE 1`, `x is greater than or equal to y`,
		`x to the power of y`, `x joined with y`, `is greater thanks`,
		// Comments and annotations
		"Note: comment\nPrint 1",
		"@Reasoning: why @End_Reasoning",
		"@Reasoning: forever",
		"@End_Reasoning",
		// Whitespace
		``, `   `, "\t\n\r", "[1,\n2]",
		// Unicode
		`"héllo"`, `café`,
		// Soup
		`@#$&|~?!=`,
	}

	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("lexer panicked on input %q: %v", data, r)
			}
		}()

		l := NewLexer(data)
		for i := 0; i < len(data)+100; i++ {
			tok := l.NextToken()
			if tok.Type == TokenEOF || tok.Type == TokenError {
				break
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParser: parse errors are acceptable; panics are not.
// ---------------------------------------------------------------------------

var programSeeds = []string{
	"Let x be 2\nLet y be 3\nPrint x + y",
	"Print a list containing 1, 2, and 3",
	"Print a dictionary containing: \"a\" as 1",
	"Print the last item of [1, 2]",
	"Print item 0 of [1]",
	"Print \"n = {1 + 2}\"",
	"If true:\n  Print 1\nOtherwise If false:\n  Print 2\nOtherwise:\n  Print 3\nEnd If",
	"For each n in [1, 2]:\n  Print n\nEnd For",
	"For i from 1 to 3:\n  Print i\nEnd For",
	"Process called \"Add\" that takes a, b:\n  Return a + b\nEnd Process\nPrint Add(1, 2)",
	"Type called \"P\":\n  x as Integer\nEnd Type\nPrint a value of type P with x as 1",
	"Enum called \"E\":\n  A, B\nEnd Enum\nMatch A:\n  When B:\n    Print 1\nEnd Match",
	"Let x as List of Integer be []",
	// Broken input
	``, `(`, `Let`, `Let x be`, `If true:`, `End If`, `Print "{"`, `Print "{}"`,
	`Process called "":`, `Match 1:`, `Print ((((((1))))))`,
}

func FuzzParser(f *testing.F) {
	for _, s := range programSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("parser panicked on input %q: %v", data, r)
			}
		}()
		Parse(data)
	})
}

// ---------------------------------------------------------------------------
// FuzzCompileAndRun: any program that passes analysis compiles, and running
// it either succeeds or fails with a RuntimeError.
// ---------------------------------------------------------------------------

func FuzzCompileAndRun(f *testing.F) {
	for _, s := range programSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		// Loops may not terminate.
		lower := strings.ToLower(data)
		if strings.Contains(lower, "while") || strings.Contains(lower, "for") {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("pipeline panicked on input %q: %v", data, r)
			}
		}()

		prog, _, err := Check(data)
		if err != nil {
			return
		}
		chunk, err := NewGenerator().Compile(prog)
		if err != nil {
			var cerr *CodegenError
			if !errors.As(err, &cerr) {
				t.Fatalf("Compile(%q) error %T, want *CodegenError", data, err)
			}
			return
		}

		vm := bytecode.NewVM(bytecode.WithOutput(io.Discard), bytecode.WithMaxFrames(32))
		if _, err := vm.Interpret(chunk); err != nil {
			var rerr *bytecode.RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("Interpret(%q) error %T, want *bytecode.RuntimeError", data, err)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzSemantic: analysis never panics on a parsed program.
// ---------------------------------------------------------------------------

func FuzzSemantic(f *testing.F) {
	for _, s := range programSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		prog, err := Parse(data)
		if err != nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("analyzer panicked on input %q: %v", data, r)
			}
		}()
		NewAnalyzer().Analyze(prog)
	})
}
