package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the hashing AST serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every cached chunk key.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// AST node type tags.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literal values
	TagIntLiteral    byte = 0x01
	TagFloatLiteral  byte = 0x02
	TagStringLiteral byte = 0x03
	TagBoolLiteral   byte = 0x04
	TagNullLiteral   byte = 0x05

	// Variable references
	TagLocalRef  byte = 0x08 // (scope depth, slot)
	TagGlobalRef byte = 0x09 // enum variant or native/process by key
	TagCallRef   byte = 0x0A // bare process name: zero-argument call

	// Expressions
	TagBinary       byte = 0x10
	TagUnary        byte = 0x11
	TagCall         byte = 0x12
	TagList         byte = 0x13
	TagDict         byte = 0x14
	TagTypedValue   byte = 0x15
	TagIndex        byte = 0x16
	TagField        byte = 0x17
	TagInterpolated byte = 0x18
	TagAssign       byte = 0x19

	// Statements
	TagLet       byte = 0x20
	TagExprStmt  byte = 0x21
	TagBlock     byte = 0x22
	TagIf        byte = 0x23
	TagWhile     byte = 0x24
	TagForEach   byte = 0x25
	TagForRange  byte = 0x26
	TagReturn    byte = 0x27
	TagProcess   byte = 0x28
	TagPrint     byte = 0x29
	TagMatch     byte = 0x2A
	TagTypeDef   byte = 0x2B
	TagEnumDef   byte = 0x2C
	TagLine      byte = 0x2D
	TagProgram   byte = 0x2E
	TagAbsent    byte = 0x2F // optional child not present

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagIntLiteral, TagFloatLiteral, TagStringLiteral, TagBoolLiteral, TagNullLiteral,
	TagLocalRef, TagGlobalRef, TagCallRef,
	TagBinary, TagUnary, TagCall, TagList, TagDict, TagTypedValue,
	TagIndex, TagField, TagInterpolated, TagAssign,
	TagLet, TagExprStmt, TagBlock, TagIf, TagWhile, TagForEach, TagForRange,
	TagReturn, TagProcess, TagPrint, TagMatch, TagTypeDef, TagEnumDef,
	TagLine, TagProgram, TagAbsent,
}
