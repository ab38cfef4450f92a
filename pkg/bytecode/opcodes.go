package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category. The byte values are part of
// the serialized chunk format and must not be renumbered.
type Opcode byte

const (
	// ========================================================================
	// Constants and stack (0x00-0x0F)
	// ========================================================================

	OpConstant Opcode = 0x00 // Push constant from pool: OpConstant <index:u16>
	OpNull     Opcode = 0x01 // Push null
	OpTrue     Opcode = 0x02 // Push true
	OpFalse    Opcode = 0x03 // Push false
	OpPop      Opcode = 0x04 // Pop top of stack
	OpDup      Opcode = 0x05 // Duplicate top of stack

	// ========================================================================
	// Variables (0x10-0x1F)
	// ========================================================================

	OpGetLocal       Opcode = 0x10 // Push local: OpGetLocal <slot:u8>
	OpSetLocal       Opcode = 0x11 // Store TOS into local without popping: OpSetLocal <slot:u8>
	OpGetGlobal      Opcode = 0x12 // Push global: OpGetGlobal <name:u16>
	OpSetGlobal      Opcode = 0x13 // Store TOS into global without popping: OpSetGlobal <name:u16>
	OpDefineFunction Opcode = 0x14 // Bind and push function: OpDefineFunction <name:u16> <fn:u16>

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpAdd      Opcode = 0x20 // Numeric add, or concatenation of two strings
	OpSubtract Opcode = 0x21 // a - b where b is TOS
	OpMultiply Opcode = 0x22
	OpDivide   Opcode = 0x23
	OpModulo   Opcode = 0x24
	OpPower    Opcode = 0x25
	OpNegate   Opcode = 0x26

	// Natural-language spellings. Same semantics as the symbolic forms.
	OpPlus         Opcode = 0x28 // "plus"
	OpMinus        Opcode = 0x29 // "minus"
	OpMultipliedBy Opcode = 0x2A // "multiplied by"
	OpDividedBy    Opcode = 0x2B // "divided by"
	OpModuloOp     Opcode = 0x2C // "modulo"
	OpPowerOf      Opcode = 0x2D // "to the power of"

	// ========================================================================
	// Strings and introspection (0x30-0x3F)
	// ========================================================================

	OpConcat   Opcode = 0x30 // Concatenate two strings ("joined with")
	OpToString Opcode = 0x31 // Replace TOS with its display string
	OpLength   Opcode = 0x32 // Length of string, list or dictionary
	OpContains Opcode = 0x33 // Membership test: collection contains value
	OpTypeOf   Opcode = 0x34 // Replace TOS with its type name

	// ========================================================================
	// Logic and comparison (0x40-0x5F)
	// ========================================================================

	OpNot Opcode = 0x40
	OpAnd Opcode = 0x41 // Both operands are evaluated
	OpOr  Opcode = 0x42

	OpEqual        Opcode = 0x48
	OpNotEqual     Opcode = 0x49
	OpGreater      Opcode = 0x4A
	OpGreaterEqual Opcode = 0x4B
	OpLess         Opcode = 0x4C
	OpLessEqual    Opcode = 0x4D

	OpIsEqualTo              Opcode = 0x50
	OpIsNotEqualTo           Opcode = 0x51
	OpIsGreaterThan          Opcode = 0x52
	OpIsGreaterThanOrEqualTo Opcode = 0x53
	OpIsLessThan             Opcode = 0x54
	OpIsLessThanOrEqualTo    Opcode = 0x55

	// ========================================================================
	// Control flow (0x60-0x6F)
	// ========================================================================

	OpJump        Opcode = 0x60 // Forward jump: OpJump <offset:u16>
	OpJumpIfFalse Opcode = 0x61 // Forward jump if TOS is false, TOS stays: OpJumpIfFalse <offset:u16>
	OpLoop        Opcode = 0x62 // Backward jump: OpLoop <offset:u16>
	OpCall        Opcode = 0x63 // Call function below args: OpCall <argc:u8>
	OpReturn      Opcode = 0x64 // Return without a value
	OpReturnValue Opcode = 0x65 // Return TOS

	// ========================================================================
	// Collections (0x70-0x7F)
	// ========================================================================

	OpCreateList Opcode = 0x70 // Build list from stack: OpCreateList <count:u8>
	OpCreateDict Opcode = 0x71 // Build dictionary from key/value pairs: OpCreateDict <pairs:u8>
	OpGetItem    Opcode = 0x72 // collection[index]
	OpSetItem    Opcode = 0x73 // list[index] = value, pushes the updated list
	OpGetDict    Opcode = 0x74 // dict[key], null on miss
	OpSetDict    Opcode = 0x75 // dict[key] = value, pushes the updated dictionary
	OpToList     Opcode = 0x76 // Iteration view: list as-is, dictionary values, string runes

	// ========================================================================
	// Output (0x80-0x8F)
	// ========================================================================

	OpPrint   Opcode = 0x80 // "Print"
	OpDisplay Opcode = 0x81 // "Display"
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConstant: {"CONSTANT", 0, 1, 2},
	OpNull:     {"NULL", 0, 1, 0},
	OpTrue:     {"TRUE", 0, 1, 0},
	OpFalse:    {"FALSE", 0, 1, 0},
	OpPop:      {"POP", 1, 0, 0},
	OpDup:      {"DUP", 1, 2, 0},

	OpGetLocal:       {"GET_LOCAL", 0, 1, 1},
	OpSetLocal:       {"SET_LOCAL", 1, 1, 1},
	OpGetGlobal:      {"GET_GLOBAL", 0, 1, 2},
	OpSetGlobal:      {"SET_GLOBAL", 1, 1, 2},
	OpDefineFunction: {"DEFINE_FUNCTION", 0, 1, 4},

	OpAdd:      {"ADD", 2, 1, 0},
	OpSubtract: {"SUBTRACT", 2, 1, 0},
	OpMultiply: {"MULTIPLY", 2, 1, 0},
	OpDivide:   {"DIVIDE", 2, 1, 0},
	OpModulo:   {"MODULO", 2, 1, 0},
	OpPower:    {"POWER", 2, 1, 0},
	OpNegate:   {"NEGATE", 1, 1, 0},

	OpPlus:         {"PLUS", 2, 1, 0},
	OpMinus:        {"MINUS", 2, 1, 0},
	OpMultipliedBy: {"MULTIPLIED_BY", 2, 1, 0},
	OpDividedBy:    {"DIVIDED_BY", 2, 1, 0},
	OpModuloOp:     {"MODULO_OP", 2, 1, 0},
	OpPowerOf:      {"POWER_OF", 2, 1, 0},

	OpConcat:   {"CONCAT", 2, 1, 0},
	OpToString: {"TO_STRING", 1, 1, 0},
	OpLength:   {"LENGTH", 1, 1, 0},
	OpContains: {"CONTAINS", 2, 1, 0},
	OpTypeOf:   {"TYPE_OF", 1, 1, 0},

	OpNot: {"NOT", 1, 1, 0},
	OpAnd: {"AND", 2, 1, 0},
	OpOr:  {"OR", 2, 1, 0},

	OpEqual:        {"EQUAL", 2, 1, 0},
	OpNotEqual:     {"NOT_EQUAL", 2, 1, 0},
	OpGreater:      {"GREATER", 2, 1, 0},
	OpGreaterEqual: {"GREATER_EQUAL", 2, 1, 0},
	OpLess:         {"LESS", 2, 1, 0},
	OpLessEqual:    {"LESS_EQUAL", 2, 1, 0},

	OpIsEqualTo:              {"IS_EQUAL_TO", 2, 1, 0},
	OpIsNotEqualTo:           {"IS_NOT_EQUAL_TO", 2, 1, 0},
	OpIsGreaterThan:          {"IS_GREATER_THAN", 2, 1, 0},
	OpIsGreaterThanOrEqualTo: {"IS_GREATER_THAN_OR_EQUAL_TO", 2, 1, 0},
	OpIsLessThan:             {"IS_LESS_THAN", 2, 1, 0},
	OpIsLessThanOrEqualTo:    {"IS_LESS_THAN_OR_EQUAL_TO", 2, 1, 0},

	OpJump:        {"JUMP", 0, 0, 2},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 0, 0, 2},
	OpLoop:        {"LOOP", 0, 0, 2},
	OpCall:        {"CALL", -1, 1, 1}, // Pops callee + argc args
	OpReturn:      {"RETURN", 0, 0, 0},
	OpReturnValue: {"RETURN_VALUE", 1, 0, 0},

	OpCreateList: {"CREATE_LIST", -1, 1, 1},
	OpCreateDict: {"CREATE_DICT", -1, 1, 1},
	OpGetItem:    {"GET_ITEM", 2, 1, 0},
	OpSetItem:    {"SET_ITEM", 3, 1, 0},
	OpGetDict:    {"GET_DICT", 2, 1, 0},
	OpSetDict:    {"SET_DICT", 3, 1, 0},
	OpToList:     {"TO_LIST", 1, 1, 0},

	OpPrint:   {"PRINT", 1, 0, 0},
	OpDisplay: {"DISPLAY", 1, 0, 0},
}

// aliasOf maps each natural-language opcode onto the symbolic opcode whose
// behavior it shares.
var aliasOf = map[Opcode]Opcode{
	OpPlus:         OpAdd,
	OpMinus:        OpSubtract,
	OpMultipliedBy: OpMultiply,
	OpDividedBy:    OpDivide,
	OpModuloOp:     OpModulo,
	OpPowerOf:      OpPower,

	OpIsEqualTo:              OpEqual,
	OpIsNotEqualTo:           OpNotEqual,
	OpIsGreaterThan:          OpGreater,
	OpIsGreaterThanOrEqualTo: OpGreaterEqual,
	OpIsLessThan:             OpLess,
	OpIsLessThanOrEqualTo:    OpLessEqual,

	OpDisplay: OpPrint,
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// DecodeOpcode converts a raw byte into an Opcode, failing for bytes that do
// not name an instruction.
func DecodeOpcode(b byte) (Opcode, error) {
	op := Opcode(b)
	if _, ok := opcodeInfoTable[op]; !ok {
		return 0, fmt.Errorf("unknown opcode: 0x%02x", b)
	}
	return op, nil
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// Canonical returns the symbolic opcode for a natural-language alias, or op
// itself.
func (op Opcode) Canonical() Opcode {
	if c, ok := aliasOf[op]; ok {
		return c
	}
	return op
}

// IsAlias reports whether op is a natural-language spelling of another opcode.
func (op Opcode) IsAlias() bool {
	_, ok := aliasOf[op]
	return ok
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpLoop
}

// IsReturn returns true if this opcode terminates the current frame.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnValue
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
