package bytecode

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk and,
// after it, for every function constant the chunk defines.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder
	c.disassembleTo(&sb, name)
	return sb.String()
}

func (c *Chunk) disassembleTo(sb *strings.Builder, name string) {
	if name != "" {
		fmt.Fprintf(sb, "== %s ==\n", name)
	}

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, constantDisplay(v))
		}
	}

	offset := 0
	lastLine := uint32(0)
	for offset < len(c.Code) {
		text, n := c.disassembleInstruction(offset)
		line := c.GetSourceLocation(uint32(offset))
		switch {
		case line == 0:
			fmt.Fprintf(sb, "%04X     | %s\n", offset, text)
		case line == lastLine:
			fmt.Fprintf(sb, "%04X     | %s\n", offset, text)
		default:
			fmt.Fprintf(sb, "%04X %4d %s\n", offset, line, text)
		}
		lastLine = line
		offset += n
	}

	for _, v := range c.Constants {
		if v.Kind == KindFunction && v.Fn != nil && v.Fn.Chunk != nil {
			sb.WriteString("\n")
			v.Fn.Chunk.disassembleTo(sb, v.Fn.Name)
		}
	}
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	text, _ := c.disassembleInstruction(offset)
	return text
}

// disassembleInstruction renders the instruction at offset and returns its
// length. Truncated operands are reported instead of read.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	if offset+1+info.OperandLen > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConstant:
		idx := c.readUint16(offset + 1)
		return fmt.Sprintf("%-16s %4d '%s'", info.Name, idx, c.constantAt(idx)), 3

	case OpGetGlobal, OpSetGlobal:
		idx := c.readUint16(offset + 1)
		return fmt.Sprintf("%-16s %4d '%s'", info.Name, idx, c.constantAt(idx)), 3

	case OpDefineFunction:
		nameIdx := c.readUint16(offset + 1)
		fnIdx := c.readUint16(offset + 3)
		return fmt.Sprintf("%-16s %4d '%s' %d", info.Name, nameIdx, c.constantAt(nameIdx), fnIdx), 5

	case OpGetLocal, OpSetLocal, OpCall, OpCreateList, OpCreateDict:
		return fmt.Sprintf("%-16s %4d", info.Name, c.Code[offset+1]), 2

	case OpJump, OpJumpIfFalse:
		delta := int(c.readUint16(offset + 1))
		return fmt.Sprintf("%-16s %4d -> %04X", info.Name, delta, offset+3+delta), 3

	case OpLoop:
		delta := int(c.readUint16(offset + 1))
		return fmt.Sprintf("%-16s %4d -> %04X", info.Name, delta, offset+3-delta), 3
	}

	if info.OperandLen == 0 {
		return info.Name, 1
	}
	operands := make([]string, 0, info.OperandLen)
	for i := 0; i < info.OperandLen; i++ {
		operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
	}
	return fmt.Sprintf("%-16s %s", info.Name, strings.Join(operands, " ")), 1 + info.OperandLen
}

// InstructionCount returns the number of instructions in the chunk.
func (c *Chunk) InstructionCount() int {
	count := 0
	for offset := 0; offset < len(c.Code); count++ {
		offset += Opcode(c.Code[offset]).InstructionLen()
	}
	return count
}

func (c *Chunk) readUint16(offset int) uint16 {
	if offset+1 >= len(c.Code) {
		return 0
	}
	return binary.BigEndian.Uint16(c.Code[offset:])
}

func (c *Chunk) constantAt(idx uint16) string {
	if int(idx) >= len(c.Constants) {
		return "<invalid>"
	}
	return constantDisplay(c.Constants[idx])
}

func constantDisplay(v Value) string {
	if v.Kind != KindString {
		return v.String()
	}
	s := v.Str
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return strconv.Quote(s)
}
