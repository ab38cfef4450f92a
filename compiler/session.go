package compiler

import (
	"github.com/runa-lang/runa/pkg/bytecode"
)

// Session evaluates source incrementally against one VM, the way a REPL
// does. Locals, processes, types and enums declared by earlier inputs stay
// visible to later ones. Input that fails at any stage leaves no
// declarations behind.
type Session struct {
	vm       *bytecode.VM
	analyzer *Analyzer
	gen      *Generator
}

// NewSession creates a session on a fresh VM configured with opts.
func NewSession(opts ...bytecode.Option) *Session {
	opts = append(opts, bytecode.WithPersistentLocals())
	gen := NewGenerator()
	gen.KeepResult = true
	return &Session{
		vm:       bytecode.NewVM(opts...),
		analyzer: NewAnalyzer(),
		gen:      gen,
	}
}

// VM returns the session's virtual machine.
func (s *Session) VM() *bytecode.VM {
	return s.vm
}

// Analyzer returns the analyzer holding the session's declarations.
func (s *Session) Analyzer() *Analyzer {
	return s.analyzer
}

// Eval runs one input. When the input ends in an expression statement its
// value is returned with ok set.
func (s *Session) Eval(src string) (value bytecode.Value, ok bool, err error) {
	prog, err := Parse(src)
	if err != nil {
		return bytecode.Null, false, err
	}

	analyzer := s.analyzer.Clone()
	if err := analyzer.Analyze(prog); err != nil {
		return bytecode.Null, false, err
	}

	base := s.gen.LocalCount()
	chunk, err := s.gen.Compile(prog)
	if err != nil {
		s.gen.TruncateLocals(base)
		return bytecode.Null, false, err
	}

	if _, err := s.vm.Interpret(chunk); err != nil {
		s.gen.TruncateLocals(base)
		s.vm.TruncateStack(base)
		return bytecode.Null, false, err
	}
	s.analyzer = analyzer

	locals := s.gen.LocalCount()
	if s.vm.StackDepth() > locals {
		value = s.vm.Result()
		s.vm.TruncateStack(locals)
		return value, true, nil
	}
	return bytecode.Null, false, nil
}
