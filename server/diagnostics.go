package server

import (
	"errors"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/pkg/bytecode"
)

// Diagnostic is one problem found in a program. Line and Column are 1-based;
// zero means unknown.
type Diagnostic struct {
	Line    int
	Column  int
	Stage   string
	Message string
}

// Diagnose parses, analyses and compiles src, collecting every diagnostic.
// The program and analyzer are returned when parsing succeeded, so callers
// can still answer type queries about a program with semantic errors.
func Diagnose(src string) (*compiler.Program, *compiler.Analyzer, []Diagnostic) {
	prog, analyzer, err := compiler.Check(src)
	if prog == nil {
		return nil, nil, []Diagnostic{diagnosticFor(err)}
	}
	if err != nil {
		var diags []Diagnostic
		for _, d := range analyzer.Diagnostics() {
			diags = append(diags, diagnosticFor(d))
		}
		return prog, analyzer, diags
	}
	if _, err := compiler.NewGenerator().Compile(prog); err != nil {
		return prog, analyzer, []Diagnostic{diagnosticFor(err)}
	}
	return prog, analyzer, nil
}

// diagnosticFor classifies a pipeline error.
func diagnosticFor(err error) Diagnostic {
	var (
		perr *compiler.ParseError
		serr *compiler.SemanticError
		cerr *compiler.CodegenError
		rerr *bytecode.RuntimeError
	)
	switch {
	case errors.As(err, &perr):
		return Diagnostic{Line: perr.Pos.Line, Column: perr.Pos.Column, Stage: "parse", Message: perr.Message}
	case errors.As(err, &serr):
		return Diagnostic{Line: serr.Pos.Line, Column: serr.Pos.Column, Stage: "semantic", Message: serr.Message}
	case errors.As(err, &cerr):
		return Diagnostic{Line: cerr.Pos.Line, Column: cerr.Pos.Column, Stage: "codegen", Message: cerr.Message}
	case errors.As(err, &rerr):
		return Diagnostic{Line: rerr.Frame.Line, Stage: "runtime", Message: rerr.Message}
	}
	return Diagnostic{Stage: "internal", Message: err.Error()}
}
