package bytecode

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is bumped whenever opcode numbering or the Value layout changes.
// Caches keyed on source text must include it so stale bytecode is never
// loaded.
const WireVersion = 1

// ErrNativeNotSerializable is returned when a chunk references a Go-backed
// function constant.
var ErrNativeNotSerializable = errors.New("native functions cannot be serialized")

type wireChunk struct {
	Version uint   `cbor:"1,keyasint"`
	Chunk   *Chunk `cbor:"2,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalChunk serializes a Chunk, including nested function chunks, to CBOR.
func MarshalChunk(c *Chunk) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("bytecode: marshal chunk: nil chunk")
	}
	if err := checkSerializable(c); err != nil {
		return nil, fmt.Errorf("bytecode: marshal chunk: %w", err)
	}
	return cborEncMode.Marshal(wireChunk{Version: WireVersion, Chunk: c})
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var w wireChunk
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	if w.Version != WireVersion {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: wire version %d, want %d", w.Version, WireVersion)
	}
	if w.Chunk == nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: missing chunk")
	}
	return w.Chunk, nil
}

func checkSerializable(c *Chunk) error {
	for _, v := range c.Constants {
		if err := checkValue(v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(v Value) error {
	switch v.Kind {
	case KindFunction:
		if v.Fn == nil {
			return nil
		}
		if v.Fn.IsNative() {
			return fmt.Errorf("%w: %s", ErrNativeNotSerializable, v.Fn.Name)
		}
		if v.Fn.Chunk != nil {
			return checkSerializable(v.Fn.Chunk)
		}
	case KindList:
		for _, item := range v.Items {
			if err := checkValue(item); err != nil {
				return err
			}
		}
	case KindDictionary:
		for _, p := range v.Pairs {
			if err := checkValue(p.Key); err != nil {
				return err
			}
			if err := checkValue(p.Value); err != nil {
				return err
			}
		}
	}
	return nil
}
