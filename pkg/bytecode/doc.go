// Package bytecode defines the Runa instruction set and the stack-based
// virtual machine that executes it.
//
// # Architecture Overview
//
//   - Opcodes: single-byte instructions with fixed-width big-endian
//     operands. Natural-language operators ("plus", "is greater than") have
//     their own opcodes that execute exactly like their symbolic twins.
//
//   - Chunk: an instruction stream, a constant pool and a line map. Every
//     user-defined function owns its own Chunk, stored as a Function
//     constant in the enclosing chunk.
//
//   - VM: a frame stack over a single operand stack plus a globals table.
//     Locals live on the operand stack at frame.slot + index. Called
//     functions sit one cell below their first local and are removed when
//     the frame returns, so a call leaves the caller's stack exactly one
//     value taller (ReturnValue) or unchanged (Return).
//
// # Serialization
//
// Chunks encode to canonical CBOR (see MarshalChunk) so compiled programs
// can be cached and shipped between processes. Natives cannot be encoded;
// they are re-registered by NewVM.
//
// # Errors
//
// Every failure during execution is reported as a *RuntimeError carrying the
// frame stack at the faulting instruction. The VM never panics on malformed
// bytecode.
package bytecode
