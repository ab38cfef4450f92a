package compiler

import (
	"strings"
	"unicode"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// CanonicalName converts an identifier or a quoted process name to the name
// the process is declared under: a space before every upper-case letter but
// the first, runs of spaces collapsed, then lower case. AddNumbers and
// "Add Numbers" both become "add numbers".
func CanonicalName(ident string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(ident) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsUpper(r) && b.Len() > 0:
			space = true
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Check parses and analyses src. The returned analyzer can answer type
// queries about the program even when err is a SemanticError.
func Check(src string) (*Program, *Analyzer, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, nil, err
	}
	analyzer := NewAnalyzer()
	return prog, analyzer, analyzer.Analyze(prog)
}

// Compile runs the full pipeline on src and returns the script chunk.
func Compile(src string) (*bytecode.Chunk, error) {
	prog, _, err := Check(src)
	if err != nil {
		return nil, err
	}
	return NewGenerator().Compile(prog)
}

// Run compiles src and interprets it on vm.
func Run(vm *bytecode.VM, src string) (bytecode.InterpretResult, error) {
	chunk, err := Compile(src)
	if err != nil {
		return bytecode.InterpretCompileError, err
	}
	return vm.Interpret(chunk)
}
