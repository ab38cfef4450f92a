package compiler

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/runa-lang/runa/pkg/bytecode"
)

func compileSource(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	chunk, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return chunk
}

// opcodes decodes the instruction stream of chunk, skipping operands.
func opcodes(chunk *bytecode.Chunk) []bytecode.Opcode {
	var ops []bytecode.Opcode
	for off := 0; off < len(chunk.Code); {
		op := bytecode.Opcode(chunk.Code[off])
		ops = append(ops, op)
		off += op.InstructionLen()
	}
	return ops
}

func expectOps(t *testing.T, chunk *bytecode.Chunk, want ...bytecode.Opcode) {
	t.Helper()
	got := opcodes(chunk)
	if len(got) != len(want) {
		t.Fatalf("opcodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("opcode[%d] = %v, want %v\nfull: %v", i, got[i], want[i], got)
		}
	}
}

// functionChunk returns the chunk of the first function constant.
func functionChunk(t *testing.T, chunk *bytecode.Chunk) *bytecode.Chunk {
	t.Helper()
	for _, c := range chunk.Constants {
		if c.Kind == bytecode.KindFunction {
			return c.Fn.Chunk
		}
	}
	t.Fatal("no function constant in chunk")
	return nil
}

func TestCodegenLocalsAndArithmetic(t *testing.T) {
	chunk := compileSource(t, "Let x be 2\nLet y be 3\nPrint x + y")
	expectOps(t, chunk,
		bytecode.OpConstant, bytecode.OpSetLocal,
		bytecode.OpConstant, bytecode.OpSetLocal,
		bytecode.OpGetLocal, bytecode.OpGetLocal, bytecode.OpAdd,
		bytecode.OpPrint,
		bytecode.OpReturn)

	// Slot operands follow declaration order.
	if chunk.Code[4] != 0 || chunk.Code[9] != 1 {
		t.Errorf("SetLocal slots = %d, %d, want 0, 1", chunk.Code[4], chunk.Code[9])
	}
	if got := chunk.GetSourceLocation(uint32(len(chunk.Code) - 2)); got != 3 {
		t.Errorf("Print maps to line %d, want 3", got)
	}
}

func TestCodegenWordOperators(t *testing.T) {
	tests := []struct {
		expr string
		op   bytecode.Opcode
	}{
		{"1 plus 2", bytecode.OpPlus},
		{"1 minus 2", bytecode.OpMinus},
		{"1 multiplied by 2", bytecode.OpMultipliedBy},
		{"1 divided by 2", bytecode.OpDividedBy},
		{"1 modulo 2", bytecode.OpModuloOp},
		{"1 to the power of 2", bytecode.OpPowerOf},
		{"1 is equal to 2", bytecode.OpIsEqualTo},
		{"1 is not equal to 2", bytecode.OpIsNotEqualTo},
		{"1 is less than 2", bytecode.OpIsLessThan},
		{"1 is greater than or equal to 2", bytecode.OpIsGreaterThanOrEqualTo},
		{`"a" joined with "b"`, bytecode.OpConcat},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			chunk := compileSource(t, "Print "+tc.expr)
			expectOps(t, chunk, bytecode.OpConstant, bytecode.OpConstant, tc.op, bytecode.OpPrint, bytecode.OpReturn)
		})
	}
}

func TestCodegenLastItem(t *testing.T) {
	chunk := compileSource(t, "Let xs be [1, 2]\nPrint the last item of xs")
	expectOps(t, chunk,
		bytecode.OpConstant, bytecode.OpConstant, bytecode.OpCreateList, bytecode.OpSetLocal,
		bytecode.OpGetLocal,
		bytecode.OpDup, bytecode.OpLength, bytecode.OpConstant, bytecode.OpSubtract, bytecode.OpGetItem,
		bytecode.OpPrint,
		bytecode.OpReturn)
}

func TestCodegenKeyedAccess(t *testing.T) {
	chunk := compileSource(t, "Let d be a dictionary containing: \"a\" as 1\nPrint d[\"a\"]")
	expectOps(t, chunk,
		bytecode.OpConstant, bytecode.OpConstant, bytecode.OpCreateDict, bytecode.OpSetLocal,
		bytecode.OpGetLocal, bytecode.OpConstant, bytecode.OpGetDict,
		bytecode.OpPrint,
		bytecode.OpReturn)
}

func TestCodegenIf(t *testing.T) {
	chunk := compileSource(t, "If true:\n  Print 1\nOtherwise:\n  Print 2\nEnd If")
	expectOps(t, chunk,
		bytecode.OpTrue, bytecode.OpJumpIfFalse, bytecode.OpPop,
		bytecode.OpConstant, bytecode.OpPrint,
		bytecode.OpJump,
		bytecode.OpPop,
		bytecode.OpConstant, bytecode.OpPrint,
		bytecode.OpReturn)
}

func TestCodegenWhile(t *testing.T) {
	chunk := compileSource(t, "While false:\n  Print 1\nEnd While")
	expectOps(t, chunk,
		bytecode.OpFalse, bytecode.OpJumpIfFalse, bytecode.OpPop,
		bytecode.OpConstant, bytecode.OpPrint,
		bytecode.OpLoop,
		bytecode.OpPop,
		bytecode.OpReturn)
}

func TestCodegenBlockLocalsArePopped(t *testing.T) {
	chunk := compileSource(t, "If true:\n  Let y be 1\nEnd If")
	expectOps(t, chunk,
		bytecode.OpTrue, bytecode.OpJumpIfFalse, bytecode.OpPop,
		bytecode.OpConstant, bytecode.OpSetLocal, bytecode.OpPop,
		bytecode.OpJump,
		bytecode.OpPop,
		bytecode.OpReturn)
}

func TestCodegenProcess(t *testing.T) {
	chunk := compileSource(t, "Process called \"Greet\":\n  Print \"hi\"\nEnd Process\nGreet")
	expectOps(t, chunk,
		bytecode.OpDefineFunction, bytecode.OpSetLocal,
		bytecode.OpGetGlobal, bytecode.OpCall, bytecode.OpPop,
		bytecode.OpReturn)

	body := functionChunk(t, chunk)
	expectOps(t, body, bytecode.OpConstant, bytecode.OpPrint, bytecode.OpNull, bytecode.OpReturnValue)
}

func TestCodegenProcessReturns(t *testing.T) {
	chunk := compileSource(t, "Process called \"Double\" that takes n:\n  Return n * 2\nEnd Process")
	expectOps(t, functionChunk(t, chunk),
		bytecode.OpGetLocal, bytecode.OpConstant, bytecode.OpMultiply, bytecode.OpReturnValue)

	// A return at the end of a branch does not end the chunk.
	chunk = compileSource(t, `Process called "Sign" that takes n:
    If n is less than 0:
        Return -1
    Otherwise:
        Return 1
    End If
End Process`)
	ops := opcodes(functionChunk(t, chunk))
	if n := len(ops); n < 2 || ops[n-2] != bytecode.OpNull || ops[n-1] != bytecode.OpReturnValue {
		t.Errorf("process body does not end in Null, ReturnValue: %v", ops)
	}
}

func TestCodegenEnum(t *testing.T) {
	chunk := compileSource(t, "Enum called \"Color\":\n  Red, Green\nEnd Enum")
	expectOps(t, chunk,
		bytecode.OpConstant, bytecode.OpSetGlobal, bytecode.OpPop,
		bytecode.OpConstant, bytecode.OpSetGlobal, bytecode.OpPop,
		bytecode.OpReturn)
}

func TestCodegenInterpolation(t *testing.T) {
	chunk := compileSource(t, "Let n be 3\nPrint \"n = {n}!\"")
	expectOps(t, chunk,
		bytecode.OpConstant, bytecode.OpSetLocal,
		bytecode.OpConstant,
		bytecode.OpGetLocal, bytecode.OpToString, bytecode.OpConcat,
		bytecode.OpConstant, bytecode.OpConcat,
		bytecode.OpPrint,
		bytecode.OpReturn)
}

func TestCodegenKeepResult(t *testing.T) {
	prog, _, err := Check("Let x be 4\nx * 2")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	chunk, err := resultGenerator().Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	expectOps(t, chunk,
		bytecode.OpConstant, bytecode.OpSetLocal,
		bytecode.OpGetLocal, bytecode.OpConstant, bytecode.OpMultiply,
		bytecode.OpReturn)

	// Assignments are never echoed.
	prog, _, _ = Check("Let x be 4\nSet x to 5")
	chunk, err = resultGenerator().Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ops := opcodes(chunk); ops[len(ops)-2] != bytecode.OpPop {
		t.Errorf("assignment result kept: %v", ops)
	}
}

func resultGenerator() *Generator {
	g := NewGenerator()
	g.KeepResult = true
	return g
}

func TestCodegenLimits(t *testing.T) {
	elements := make([]string, 256)
	for i := range elements {
		elements[i] = "1"
	}
	_, err := Compile("Print [" + strings.Join(elements, ", ") + "]")
	if err == nil || err.Error() != "line 1: too many elements in list literal (max 255)" {
		t.Errorf("list limit: %v", err)
	}

	var b strings.Builder
	for i := 0; i < bytecode.MaxLocals+1; i++ {
		fmt.Fprintf(&b, "Let v%d be %d\n", i, i)
	}
	_, err = Compile(b.String())
	want := fmt.Sprintf("line %d: too many local variables in one function (max %d)", bytecode.MaxLocals+1, bytecode.MaxLocals)
	if err == nil || err.Error() != want {
		t.Errorf("locals limit: %v", err)
	}
	var cerr *CodegenError
	if !errors.As(err, &cerr) {
		t.Errorf("error %T, want *CodegenError", err)
	}
}

func TestCodegenConstantLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("large program")
	}
	var b strings.Builder
	for i := 0; i < bytecode.MaxConstants+1; i++ {
		fmt.Fprintf(&b, "Print %d\n", i)
	}
	_, err := Compile(b.String())
	var cerr *CodegenError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *CodegenError", err)
	}
	if !strings.Contains(err.Error(), "too many constants in one chunk") {
		t.Errorf("error = %q", err)
	}
}

func TestCodegenUnpatchedJumps(t *testing.T) {
	g := NewGenerator()
	g.chunk = bytecode.NewChunk()
	g.pending = map[int]Position{}
	node := &Literal{SpanVal: Span{Start: Position{Line: 3}}}
	g.emitJump(node, bytecode.OpJump)

	defer func() {
		r := recover()
		b, ok := r.(codegenBailout)
		if !ok {
			t.Fatalf("recovered %v, want codegenBailout", r)
		}
		if got := b.err.Error(); got != "line 3: Unpatched jumps found: [1]" {
			t.Errorf("error = %q", got)
		}
	}()
	g.checkPending()
	t.Fatal("checkPending did not fail")
}

func TestCodegenUnknownUnaryOperator(t *testing.T) {
	at := Span{Start: Position{Line: 2}}
	prog := &Program{Statements: []Stmt{
		&Print{SpanVal: at, Value: &Unary{
			SpanVal: at,
			Op:      UnaryOp(99),
			Operand: &Literal{SpanVal: at, Value: bytecode.IntegerValue(1)},
		}},
	}}
	_, err := NewGenerator().Compile(prog)
	var cerr *CodegenError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *CodegenError", err)
	}
	if got := err.Error(); got != "line 2: unsupported unary operator 99" {
		t.Errorf("error = %q", got)
	}
}

func TestCodegenReturnOutsideProcess(t *testing.T) {
	prog := mustParse(t, "Return 1")
	_, err := NewGenerator().Compile(prog)
	if err == nil || err.Error() != "line 1: Return statement is only allowed inside functions." {
		t.Errorf("error = %v", err)
	}
}

func TestCodegenTruncateLocals(t *testing.T) {
	g := NewGenerator()
	a := NewAnalyzer()
	for _, src := range []string{"Let x be 1", "Let y be 2"} {
		prog := mustParse(t, src)
		if err := a.Analyze(prog); err != nil {
			t.Fatalf("Analyze(%q): %v", src, err)
		}
		if _, err := g.Compile(prog); err != nil {
			t.Fatalf("Compile(%q): %v", src, err)
		}
	}
	if g.LocalCount() != 2 {
		t.Fatalf("LocalCount = %d, want 2", g.LocalCount())
	}

	g.TruncateLocals(1)
	if g.LocalCount() != 1 {
		t.Errorf("LocalCount after truncate = %d, want 1", g.LocalCount())
	}

	prog := mustParse(t, "Print x")
	if err := a.Analyze(prog); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	chunk, err := g.Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if chunk.Code[1] != 0 {
		t.Errorf("x resolved to slot %d, want 0", chunk.Code[1])
	}
}
