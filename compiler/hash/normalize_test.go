package hash

import (
	"testing"

	"github.com/runa-lang/runa/compiler"
)

// check parses and analyses src, failing the test on any error.
func check(t *testing.T, src string) *compiler.Program {
	t.Helper()
	prog, _, err := compiler.Check(src)
	if err != nil {
		t.Fatalf("Check(%q): %v", src, err)
	}
	return prog
}

// unwrap strips the HLine wrapper from a statement.
func unwrap(t *testing.T, n HNode) HNode {
	t.Helper()
	line, ok := n.(*HLine)
	if !ok {
		t.Fatalf("got %T, want *HLine", n)
	}
	return line.Stmt
}

func TestNormalize_LocalSlots(t *testing.T) {
	prog := check(t, "Let a be 1\nLet b be 2\nPrint b")
	hp := NormalizeProgram(prog)

	if len(hp.Statements) != 3 {
		t.Fatalf("statements: got %d, want 3", len(hp.Statements))
	}
	pr, ok := unwrap(t, hp.Statements[2]).(*HPrint)
	if !ok {
		t.Fatalf("statement[2]: got %T, want *HPrint", hp.Statements[2])
	}
	ref, ok := pr.Value.(*HLocalRef)
	if !ok {
		t.Fatalf("print value: got %T, want *HLocalRef", pr.Value)
	}
	if ref.ScopeDepth != 0 || ref.SlotIndex != 1 {
		t.Errorf("ref: got depth=%d slot=%d, want depth=0 slot=1", ref.ScopeDepth, ref.SlotIndex)
	}
}

func TestNormalize_NestedScopeDepth(t *testing.T) {
	prog := check(t, "Let a be 1\nIf true:\n  Let b be 2\n  Print a + b\nEnd If")
	hp := NormalizeProgram(prog)

	ifStmt := unwrap(t, hp.Statements[1]).(*HIf)
	pr := unwrap(t, ifStmt.Then.Statements[1]).(*HPrint)
	bin := pr.Value.(*HBinary)

	outer := bin.Left.(*HLocalRef)
	if outer.ScopeDepth != 1 || outer.SlotIndex != 0 {
		t.Errorf("a: got depth=%d slot=%d, want depth=1 slot=0", outer.ScopeDepth, outer.SlotIndex)
	}
	inner := bin.Right.(*HLocalRef)
	if inner.ScopeDepth != 0 || inner.SlotIndex != 0 {
		t.Errorf("b: got depth=%d slot=%d, want depth=0 slot=0", inner.ScopeDepth, inner.SlotIndex)
	}
}

func TestNormalize_ProcessParams(t *testing.T) {
	src := "Let unrelated be 0\nProcess called \"Add\" that takes x, y:\n  Return x + y\nEnd Process"
	hp := NormalizeProgram(check(t, src))

	proc := unwrap(t, hp.Statements[1]).(*HProcess)
	if proc.Name != "add" || proc.Arity != 2 {
		t.Errorf("process: got %q/%d, want \"add\"/2", proc.Name, proc.Arity)
	}
	ret := unwrap(t, proc.Body.Statements[0]).(*HReturn)
	bin := ret.Value.(*HBinary)
	if y := bin.Right.(*HLocalRef); y.ScopeDepth != 0 || y.SlotIndex != 1 {
		t.Errorf("y: got depth=%d slot=%d, want depth=0 slot=1", y.ScopeDepth, y.SlotIndex)
	}
}

func TestNormalize_Resolution(t *testing.T) {
	src := `Enum called "Color":
  Red, Green
End Enum
Process called "Answer":
  Return 42
End Process
Process called "Double" that takes n:
  Return n * 2
End Process
Print Red
Print Answer
Print Double(1)`
	hp := NormalizeProgram(check(t, src))
	n := len(hp.Statements)

	red := unwrap(t, hp.Statements[n-3]).(*HPrint).Value.(*HGlobalRef)
	if red.Key != "Red" || red.Call {
		t.Errorf("Red: got %+v", red)
	}
	answer := unwrap(t, hp.Statements[n-2]).(*HPrint).Value.(*HGlobalRef)
	if answer.Key != `"answer"` || !answer.Call {
		t.Errorf("Answer: got %+v", answer)
	}
	call := unwrap(t, hp.Statements[n-1]).(*HPrint).Value.(*HCall)
	callee := call.Callee.(*HGlobalRef)
	if callee.Key != `"double"` || callee.Call {
		t.Errorf("Double callee: got %+v", callee)
	}
}

func TestNormalize_AnnotationsDropped(t *testing.T) {
	hp := NormalizeProgram(check(t, "Print 1\n@Reasoning: why @End_Reasoning"))
	if len(hp.Statements) != 1 {
		t.Errorf("statements: got %d, want 1", len(hp.Statements))
	}
}

func TestNormalize_KeyedIndex(t *testing.T) {
	src := "Let d be a dictionary containing: \"a\" as 1\nPrint d[\"a\"]\nLet l be [1]\nPrint l[0]"
	hp := NormalizeProgram(check(t, src))

	dict := unwrap(t, hp.Statements[1]).(*HPrint).Value.(*HIndex)
	if !dict.Keyed {
		t.Error("dictionary index should be keyed")
	}
	list := unwrap(t, hp.Statements[3]).(*HPrint).Value.(*HIndex)
	if list.Keyed {
		t.Error("list index should not be keyed")
	}
}

func TestNormalize_InterpolationParts(t *testing.T) {
	hp := NormalizeProgram(check(t, "Let n be 1\nPrint \"n = {n}!\""))
	s := unwrap(t, hp.Statements[1]).(*HPrint).Value.(*HInterpolated)
	if len(s.Texts) != 3 || len(s.Exprs) != 3 {
		t.Fatalf("parts: got %d texts, %d exprs, want 3/3", len(s.Texts), len(s.Exprs))
	}
	if s.Exprs[0] != nil || s.Exprs[2] != nil {
		t.Error("text parts should have nil expressions")
	}
	if _, ok := s.Exprs[1].(*HLocalRef); !ok {
		t.Errorf("part 1: got %T, want *HLocalRef", s.Exprs[1])
	}
}

// ---------------------------------------------------------------------------
// Hash invariance
// ---------------------------------------------------------------------------

func TestHash_RenamingInvariant(t *testing.T) {
	a := HashProgram(check(t, "Let total be 1\nFor each n in [1, 2]:\n  Set total to total + n\nEnd For\nPrint total"))
	b := HashProgram(check(t, "Let sum be 1\nFor each k in [1, 2]:\n  Set sum to sum + k\nEnd For\nPrint sum"))
	if a != b {
		t.Error("renaming locals changed the hash")
	}
}

func TestHash_CommentsInvariant(t *testing.T) {
	a := HashProgram(check(t, "Let x be 1\nPrint x"))
	b := HashProgram(check(t, "Let x be 1 Note: one\nPrint x Note: show it"))
	if a != b {
		t.Error("comments changed the hash")
	}
}

func TestHash_Sensitivity(t *testing.T) {
	base := "Let x be 1\nPrint x"
	variants := map[string]string{
		"literal":  "Let x be 2\nPrint x",
		"display":  "Let x be 1\nDisplay x",
		"line":     "Let x be 1\n\nPrint x",
		"operator": "Let x be 1\nPrint x + 1",
		"type":     "Let x be 1.0\nPrint x",
	}
	h := HashProgram(check(t, base))
	for name, src := range variants {
		if HashProgram(check(t, src)) == h {
			t.Errorf("%s: hash unchanged", name)
		}
	}
}
