package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleEmpty(t *testing.T) {
	if got := NewChunk().Disassemble(""); got != "" {
		t.Errorf("Expected empty listing, got %q", got)
	}
}

func TestDisassembleSimple(t *testing.T) {
	c := NewChunk()
	c.AddSourceLocation(0, 1)
	if _, err := c.EmitConstant(IntegerValue(2)); err != nil {
		t.Fatal(err)
	}
	c.Emit(OpNull)
	c.Emit(OpPlus)
	c.Emit(OpReturn)

	output := c.Disassemble("script")

	for _, want := range []string{"== script ==", "CONSTANT", "'2'", "PLUS", "RETURN", "0000    1"} {
		if !strings.Contains(output, want) {
			t.Errorf("Disassembly missing %q:\n%s", want, output)
		}
	}
}

func TestDisassembleJumps(t *testing.T) {
	c := NewChunk()
	c.Emit(OpFalse)
	jump := c.EmitJump(OpJumpIfFalse)
	c.Emit(OpPop)
	if err := c.PatchJump(jump); err != nil {
		t.Fatal(err)
	}
	if err := c.EmitLoop(0); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(c.Disassemble("")), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 instructions, got %d:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.Contains(lines[1], "JUMP_IF_FALSE") || !strings.Contains(lines[1], "-> 0005") {
		t.Errorf("Unexpected jump line %q", lines[1])
	}
	if !strings.Contains(lines[3], "LOOP") || !strings.Contains(lines[3], "-> 0000") {
		t.Errorf("Unexpected loop line %q", lines[3])
	}
}

func TestDisassembleNestedFunctions(t *testing.T) {
	body := NewChunk()
	body.EmitWithOperand(OpGetLocal, 0)
	body.Emit(OpReturnValue)

	c := NewChunk()
	nameIdx := c.AddConstant(StringValue(`"identity"`))
	fnIdx := c.AddConstant(FunctionValue(&Function{Name: "identity", Arity: 1, Chunk: body}))
	c.EmitWithOperand(OpDefineFunction, 0, byte(nameIdx), 0, byte(fnIdx))
	c.Emit(OpReturn)

	output := c.Disassemble("script")
	for _, want := range []string{"DEFINE_FUNCTION", "<function identity>", "== identity ==", "GET_LOCAL", "RETURN_VALUE"} {
		if !strings.Contains(output, want) {
			t.Errorf("Disassembly missing %q:\n%s", want, output)
		}
	}
}

func TestDisassembleTruncated(t *testing.T) {
	c := chunkWithCode(byte(OpConstant), 0x00)
	if got := c.DisassembleInstruction(0); !strings.Contains(got, "<truncated>") {
		t.Errorf("Expected truncated marker, got %q", got)
	}
}

func TestInstructionCount(t *testing.T) {
	c := NewChunk()
	c.EmitWithOperand(OpConstant, 0, 0)
	c.EmitWithOperand(OpGetLocal, 1)
	c.Emit(OpReturn)
	if got := c.InstructionCount(); got != 3 {
		t.Errorf("InstructionCount() = %d, want 3", got)
	}
}
