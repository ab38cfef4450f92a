package hash

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestSerialize_Deterministic(t *testing.T) {
	node := &HProgram{Statements: []HNode{
		&HLine{Line: 1, Stmt: &HExprStmt{Expr: &HBinary{
			Op:    "+",
			Left:  &HLocalRef{ScopeDepth: 0, SlotIndex: 0},
			Right: &HIntLiteral{Value: 42},
		}}},
	}}

	if !bytes.Equal(Serialize(node), Serialize(node)) {
		t.Error("serialization is not deterministic")
	}
}

func TestSerialize_VersionPrefix(t *testing.T) {
	data := Serialize(&HNullLiteral{})
	if len(data) != 2 {
		t.Fatalf("length: got %d, want 2", len(data))
	}
	if data[0] != HashVersion {
		t.Errorf("version prefix: got 0x%02X, want 0x%02X", data[0], HashVersion)
	}
	if data[1] != TagNullLiteral {
		t.Errorf("tag: got 0x%02X, want 0x%02X", data[1], TagNullLiteral)
	}
}

func TestSerialize_IntLiteral(t *testing.T) {
	data := Serialize(&HIntLiteral{Value: 12345})

	// version(1) + tag(1) + int64(8) = 10
	if len(data) != 10 {
		t.Fatalf("length: got %d, want 10", len(data))
	}
	if data[1] != TagIntLiteral {
		t.Errorf("tag: got 0x%02X, want 0x%02X", data[1], TagIntLiteral)
	}
	if v := int64(binary.BigEndian.Uint64(data[2:10])); v != 12345 {
		t.Errorf("value: got %d, want 12345", v)
	}
}

func TestSerialize_FloatLiteral(t *testing.T) {
	data := Serialize(&HFloatLiteral{Value: 2.5})
	if len(data) != 10 {
		t.Fatalf("length: got %d, want 10", len(data))
	}
	if v := math.Float64frombits(binary.BigEndian.Uint64(data[2:10])); v != 2.5 {
		t.Errorf("value: got %v, want 2.5", v)
	}
}

func TestSerialize_String(t *testing.T) {
	data := Serialize(&HStringLiteral{Value: "hi"})
	want := []byte{HashVersion, TagStringLiteral, 0, 0, 0, 2, 'h', 'i'}
	if !bytes.Equal(data, want) {
		t.Errorf("got % X, want % X", data, want)
	}
}

func TestSerialize_PrintProgram(t *testing.T) {
	node := &HProgram{Statements: []HNode{
		&HLine{Line: 1, Stmt: &HPrint{Value: &HIntLiteral{Value: 1}}},
	}}
	want := []byte{
		HashVersion,
		TagProgram, 0, 0, 0, 1,
		TagLine, 0, 0, 0, 1,
		TagPrint,
		TagIntLiteral, 0, 0, 0, 0, 0, 0, 0, 1,
		0, // Display
	}
	if got := Serialize(node); !bytes.Equal(got, want) {
		t.Errorf("got % X\nwant % X", got, want)
	}
}

func TestSerialize_AbsentChildren(t *testing.T) {
	bare := Serialize(&HReturn{})
	want := []byte{HashVersion, TagReturn, TagAbsent}
	if !bytes.Equal(bare, want) {
		t.Errorf("bare return: got % X, want % X", bare, want)
	}

	withValue := Serialize(&HReturn{Value: &HNullLiteral{}})
	if bytes.Equal(bare, withValue) {
		t.Error("Return and Return null serialize the same")
	}

	// A typed nil block is absent too.
	var body *HBlock
	got := Serialize(&HWhile{Condition: &HBoolLiteral{Value: true}, Body: body})
	if got[len(got)-1] != TagAbsent {
		t.Errorf("nil body: last byte 0x%02X, want TagAbsent", got[len(got)-1])
	}
}

func TestSerialize_CallRefDistinct(t *testing.T) {
	value := Serialize(&HGlobalRef{Key: `"f"`})
	call := Serialize(&HGlobalRef{Key: `"f"`, Call: true})
	if value[1] != TagGlobalRef || call[1] != TagCallRef {
		t.Errorf("tags: got 0x%02X/0x%02X", value[1], call[1])
	}
}

func TestSerialize_InterpolationBoundaries(t *testing.T) {
	// "ab" + {x} must differ from "a" + "b" + {x}.
	x := &HLocalRef{}
	a := Serialize(&HInterpolated{Texts: []string{"ab", ""}, Exprs: []HNode{nil, x}})
	b := Serialize(&HInterpolated{Texts: []string{"a", "b", ""}, Exprs: []HNode{nil, nil, x}})
	if bytes.Equal(a, b) {
		t.Error("part boundaries lost in serialization")
	}
}
