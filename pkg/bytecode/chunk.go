package bytecode

import (
	"errors"
	"fmt"
)

// Limits imposed by operand widths.
const (
	MaxConstants = 1 << 16 // OpConstant / name operands are u16
	MaxLocals    = 1 << 8  // OpGetLocal / OpSetLocal operands are u8
	MaxJump      = 0xFFFF  // Jump distances are u16
)

var (
	// ErrJumpTooLarge is returned when a forward jump cannot be encoded.
	ErrJumpTooLarge = errors.New("too much code to jump over")

	// ErrLoopTooLarge is returned when a backward jump cannot be encoded.
	ErrLoopTooLarge = errors.New("loop body too large")
)

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	_              struct{} `cbor:",toarray"`
	BytecodeOffset uint32   // Offset in code section
	Line           uint32   // Source line number (1-based)
}

// Chunk is the compiled form of one function body or of the top-level
// script: an instruction stream plus the constants it references.
// Chunks are append-only while compiling and read-only while executing.
type Chunk struct {
	Code      []byte           `cbor:"1,keyasint"`
	Constants []Value          `cbor:"2,keyasint"`
	SourceMap []SourceLocation `cbor:"3,keyasint,omitempty"`
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 64),
		Constants: make([]Value, 0, 8),
	}
}

// AddConstant adds a constant to the pool and returns its index.
// Scalar constants are deduplicated; functions always get a fresh slot.
func (c *Chunk) AddConstant(v Value) int {
	switch v.Kind {
	case KindInteger, KindFloat, KindString, KindBoolean, KindNull:
		for i, existing := range c.Constants {
			if existing.Kind == v.Kind && existing.Equal(v) {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitConstant adds v to the pool and emits an OpConstant referencing it.
func (c *Chunk) EmitConstant(v Value) (int, error) {
	idx := c.AddConstant(v)
	if idx >= MaxConstants {
		return 0, fmt.Errorf("too many constants in one chunk (%d)", idx+1)
	}
	return c.EmitWithOperand(OpConstant, byte(idx>>8), byte(idx)), nil
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF)
	return offset + 1
}

// PatchJump rewrites the placeholder at placeholderOffset so the jump lands
// on the current end of the code section.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	delta := len(c.Code) - placeholderOffset - 2
	if delta > MaxJump {
		return ErrJumpTooLarge
	}
	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// EmitLoop emits a backward jump to loopStart. The operand is the distance
// subtracted from the instruction pointer once the operand has been read.
func (c *Chunk) EmitLoop(loopStart int) error {
	delta := len(c.Code) + 3 - loopStart
	if delta > MaxJump {
		return ErrLoopTooLarge
	}
	c.Code = append(c.Code, byte(OpLoop), byte(delta>>8), byte(delta))
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// AddSourceLocation records that code emitted from bytecodeOffset onwards
// came from the given source line.
func (c *Chunk) AddSourceLocation(bytecodeOffset uint32, line uint32) {
	if n := len(c.SourceMap); n > 0 && c.SourceMap[n-1].Line == line {
		return
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: bytecodeOffset,
		Line:           line,
	})
}

// GetSourceLocation returns the source line for a bytecode offset.
// Returns 0 if no mapping exists.
func (c *Chunk) GetSourceLocation(offset uint32) uint32 {
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if c.SourceMap[i].BytecodeOffset <= offset {
			return c.SourceMap[i].Line
		}
	}
	return 0
}
