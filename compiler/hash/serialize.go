package hash

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of the frozen hashing AST.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint32=4B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Lists: uint32 count followed by the elements
//   - Missing optional children: TagAbsent
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of an HNode tree.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(node HNode) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeStrings(vs []string) {
	s.writeUint32(uint32(len(vs)))
	for _, v := range vs {
		s.writeString(v)
	}
}

func (s *serializer) writeNodes(nodes []HNode) {
	s.writeUint32(uint32(len(nodes)))
	for _, n := range nodes {
		s.serializeOptional(n)
	}
}

// serializeOptional writes TagAbsent for a nil child.
func (s *serializer) serializeOptional(node HNode) {
	if isNil(node) {
		s.writeByte(TagAbsent)
		return
	}
	s.serializeNode(node)
}

// isNil catches typed nil pointers stored in the interface, such as a
// missing *HBlock.
func isNil(node HNode) bool {
	switch n := node.(type) {
	case nil:
		return true
	case *HBlock:
		return n == nil
	case *HLocalRef:
		return n == nil
	}
	return false
}

func (s *serializer) serializeNode(node HNode) {
	switch n := node.(type) {
	case *HIntLiteral:
		s.writeByte(TagIntLiteral)
		s.writeInt64(n.Value)

	case *HFloatLiteral:
		s.writeByte(TagFloatLiteral)
		s.writeFloat64(n.Value)

	case *HStringLiteral:
		s.writeByte(TagStringLiteral)
		s.writeString(n.Value)

	case *HBoolLiteral:
		s.writeByte(TagBoolLiteral)
		s.writeBool(n.Value)

	case *HNullLiteral:
		s.writeByte(TagNullLiteral)

	case *HLocalRef:
		s.writeByte(TagLocalRef)
		s.writeUint16(n.ScopeDepth)
		s.writeUint16(n.SlotIndex)

	case *HGlobalRef:
		if n.Call {
			s.writeByte(TagCallRef)
		} else {
			s.writeByte(TagGlobalRef)
		}
		s.writeString(n.Key)

	case *HBinary:
		s.writeByte(TagBinary)
		s.writeString(n.Op)
		s.serializeNode(n.Left)
		s.serializeNode(n.Right)

	case *HUnary:
		s.writeByte(TagUnary)
		s.writeByte(n.Op)
		s.serializeNode(n.Operand)

	case *HCall:
		s.writeByte(TagCall)
		s.serializeNode(n.Callee)
		s.writeNodes(n.Args)

	case *HList:
		s.writeByte(TagList)
		s.writeNodes(n.Elements)

	case *HDict:
		s.writeByte(TagDict)
		s.writeNodes(n.Keys)
		s.writeNodes(n.Values)

	case *HTypedValue:
		s.writeByte(TagTypedValue)
		s.writeString(n.TypeName)
		s.writeStrings(n.Fields)
		s.writeNodes(n.Values)

	case *HIndex:
		s.writeByte(TagIndex)
		s.serializeNode(n.Target)
		s.serializeNode(n.Index)
		s.writeBool(n.Keyed)

	case *HField:
		s.writeByte(TagField)
		s.serializeNode(n.Target)
		s.writeString(n.Name)

	case *HInterpolated:
		s.writeByte(TagInterpolated)
		s.writeStrings(n.Texts)
		s.writeNodes(n.Exprs)

	case *HAssign:
		s.writeByte(TagAssign)
		s.serializeOptional(n.Target)
		s.serializeOptional(n.Index)
		s.writeString(n.Field)
		s.writeBool(n.Keyed)
		s.serializeNode(n.Value)

	case *HLine:
		s.writeByte(TagLine)
		s.writeUint32(n.Line)
		s.serializeNode(n.Stmt)

	case *HLet:
		s.writeByte(TagLet)
		s.serializeNode(n.Value)

	case *HExprStmt:
		s.writeByte(TagExprStmt)
		s.serializeNode(n.Expr)

	case *HBlock:
		s.writeByte(TagBlock)
		s.writeNodes(n.Statements)

	case *HIf:
		s.writeByte(TagIf)
		s.serializeNode(n.Condition)
		s.serializeOptional(n.Then)
		s.serializeOptional(n.Else)

	case *HWhile:
		s.writeByte(TagWhile)
		s.serializeNode(n.Condition)
		s.serializeOptional(n.Body)

	case *HForEach:
		s.writeByte(TagForEach)
		s.serializeNode(n.Source)
		s.serializeOptional(n.Body)

	case *HForRange:
		s.writeByte(TagForRange)
		s.serializeNode(n.From)
		s.serializeNode(n.To)
		s.serializeOptional(n.Step)
		s.serializeOptional(n.Body)

	case *HReturn:
		s.writeByte(TagReturn)
		s.serializeOptional(n.Value)

	case *HProcess:
		s.writeByte(TagProcess)
		s.writeString(n.Name)
		s.writeInt64(int64(n.Arity))
		s.serializeOptional(n.Body)

	case *HPrint:
		s.writeByte(TagPrint)
		s.serializeNode(n.Value)
		s.writeBool(n.Display)

	case *HMatch:
		s.writeByte(TagMatch)
		s.serializeNode(n.Subject)
		s.writeNodes(n.Patterns)
		s.writeUint32(uint32(len(n.Bodies)))
		for _, b := range n.Bodies {
			s.serializeOptional(b)
		}
		s.serializeOptional(n.Otherwise)

	case *HTypeDef:
		s.writeByte(TagTypeDef)
		s.writeString(n.Name)
		s.writeStrings(n.Fields)
		s.writeStrings(n.Types)

	case *HEnumDef:
		s.writeByte(TagEnumDef)
		s.writeString(n.Name)
		s.writeStrings(n.Variants)

	case *HProgram:
		s.writeByte(TagProgram)
		s.writeNodes(n.Statements)

	default:
		s.writeByte(TagAbsent)
	}
}
