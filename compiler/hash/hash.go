package hash

import (
	"crypto/sha256"

	"github.com/runa-lang/runa/compiler"
)

// HashProgram computes the SHA-256 content hash of an analysed program.
//
// The hash is computed over a deterministic serialization of the program's
// normalized AST. Programs that differ only in local variable names,
// comments or annotations hash the same; any change that can alter the
// compiled chunk, including a statement moving to another line, changes
// the hash.
func HashProgram(prog *compiler.Program) [32]byte {
	return sha256.Sum256(Serialize(NormalizeProgram(prog)))
}
