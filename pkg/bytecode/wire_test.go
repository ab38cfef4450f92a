package bytecode

import (
	"bytes"
	"errors"
	"testing"
)

func sampleChunk() *Chunk {
	body := NewChunk()
	body.EmitWithOperand(OpGetLocal, 0)
	body.Emit(OpReturnValue)
	body.AddSourceLocation(0, 2)

	c := NewChunk()
	c.AddSourceLocation(0, 1)
	nameIdx := c.AddConstant(StringValue(`"identity"`))
	fnIdx := c.AddConstant(FunctionValue(&Function{Name: "identity", Arity: 1, Chunk: body}))
	c.EmitWithOperand(OpDefineFunction, 0, byte(nameIdx), 0, byte(fnIdx))
	c.AddConstant(ListValue([]Value{IntegerValue(1), FloatValue(2.5), BoolValue(true), Null}))
	c.AddConstant(DictValue([]Pair{{Key: StringValue("k"), Value: StringValue("v")}}))
	c.Emit(OpReturn)
	return c
}

func TestWireRoundTrip(t *testing.T) {
	orig := sampleChunk()
	data, err := MarshalChunk(orig)
	if err != nil {
		t.Fatalf("MarshalChunk: %v", err)
	}

	got, err := UnmarshalChunk(data)
	if err != nil {
		t.Fatalf("UnmarshalChunk: %v", err)
	}
	if !bytes.Equal(got.Code, orig.Code) {
		t.Errorf("Code mismatch: %v vs %v", got.Code, orig.Code)
	}
	if len(got.Constants) != len(orig.Constants) {
		t.Fatalf("Expected %d constants, got %d", len(orig.Constants), len(got.Constants))
	}
	for i := range orig.Constants {
		if orig.Constants[i].Kind == KindFunction {
			continue
		}
		if !got.Constants[i].Equal(orig.Constants[i]) {
			t.Errorf("constant %d: got %v, want %v", i, got.Constants[i], orig.Constants[i])
		}
	}
	fn := got.Constants[1].Fn
	if fn == nil || fn.Name != "identity" || fn.Arity != 1 || fn.Chunk == nil {
		t.Fatalf("function constant not restored: %+v", fn)
	}
	if fn.Chunk.GetSourceLocation(0) != 2 {
		t.Errorf("nested source map not restored")
	}
}

func TestWireDeterministic(t *testing.T) {
	a, err := MarshalChunk(sampleChunk())
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalChunk(sampleChunk())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Expected identical encodings for identical chunks")
	}
}

func TestWireExecutesAfterDecode(t *testing.T) {
	c := NewChunk()
	if _, err := c.EmitConstant(StringValue("hi")); err != nil {
		t.Fatal(err)
	}
	c.Emit(OpPrint)
	c.Emit(OpReturn)

	data, err := MarshalChunk(c)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := UnmarshalChunk(data)
	if err != nil {
		t.Fatal(err)
	}
	expectOutput(t, decoded, "hi\n")
}

func TestWireRejectsNatives(t *testing.T) {
	c := NewChunk()
	c.AddConstant(FunctionValue(&Function{Name: "n", Native: func([]Value) (Value, error) { return Null, nil }}))
	_, err := MarshalChunk(c)
	if !errors.Is(err, ErrNativeNotSerializable) {
		t.Errorf("Expected ErrNativeNotSerializable, got %v", err)
	}
}

func TestWireRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalChunk([]byte{0xFF, 0x00}); err == nil {
		t.Error("Expected error for garbage input")
	}
	if _, err := MarshalChunk(nil); err == nil {
		t.Error("Expected error for nil chunk")
	}
}
