package store

import (
	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/compiler/hash"
	"github.com/runa-lang/runa/pkg/bytecode"
)

// KeyOf returns the cache key of an analysed program.
func KeyOf(prog *compiler.Program) Key {
	return Key(hash.HashProgram(prog))
}

// Compile returns the cached chunk for prog, generating and storing it on a
// miss, and reports whether the cache hit. A nil cache always generates.
// Cache failures are logged and never fail the compile.
func Compile(c *ChunkCache, prog *compiler.Program) (*bytecode.Chunk, bool, error) {
	if c == nil {
		chunk, err := compiler.NewGenerator().Compile(prog)
		return chunk, false, err
	}

	key := KeyOf(prog)
	chunk, ok, err := c.Get(key)
	if err != nil {
		log.Warningf("cache read: %s", err)
	}
	if ok {
		return chunk, true, nil
	}

	chunk, err = compiler.NewGenerator().Compile(prog)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, chunk); err != nil {
		log.Warningf("cache write: %s", err)
	}
	return chunk, false, nil
}
