package hash_test

import (
	"testing"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/compiler/hash"
)

func TestHashProgram_EndToEnd_NonZero(t *testing.T) {
	prog, _, err := compiler.Check("Let x be 2\nPrint x + 1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	var zero [32]byte
	if hash.HashProgram(prog) == zero {
		t.Error("hash should be non-zero for a valid program")
	}
}

func TestHashProgram_EndToEnd_Deterministic(t *testing.T) {
	src := "Process called \"Greet\" that takes name:\n  Return \"hi {name}\"\nEnd Process\nPrint Greet(\"bob\")"
	p1, _, err := compiler.Check(src)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	p2, _, _ := compiler.Check(src)
	if hash.HashProgram(p1) != hash.HashProgram(p2) {
		t.Error("same source hashed differently")
	}
}

func TestHashProgram_ParameterRenaming(t *testing.T) {
	a, _, err := compiler.Check("Process called \"Sq\" that takes n:\n  Return n * n\nEnd Process\nPrint Sq(3)")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	b, _, err := compiler.Check("Process called \"Sq\" that takes value:\n  Return value * value\nEnd Process\nPrint Sq(3)")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if hash.HashProgram(a) != hash.HashProgram(b) {
		t.Error("renaming a parameter changed the hash")
	}
}

func TestHashProgram_ProcessNameMatters(t *testing.T) {
	a, _, _ := compiler.Check("Process called \"One\":\n  Return 1\nEnd Process\nPrint One")
	b, _, _ := compiler.Check("Process called \"Uno\":\n  Return 1\nEnd Process\nPrint Uno")
	if a == nil || b == nil {
		t.Fatal("Check failed")
	}
	if hash.HashProgram(a) == hash.HashProgram(b) {
		t.Error("process names are globals and must affect the hash")
	}
}
