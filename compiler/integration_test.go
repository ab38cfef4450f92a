package compiler

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// Integration tests: compile and execute complete Runa programs.

// TestGolden runs every testdata/*.txtar archive. Each archive holds an
// input.runa program and the expected stdout, error text, or both.
func TestGolden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.txtar"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no golden files in testdata")
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".txtar")
		t.Run(name, func(t *testing.T) {
			ar, err := txtar.ParseFile(file)
			if err != nil {
				t.Fatalf("ParseFile: %v", err)
			}
			sections := map[string]string{}
			for _, f := range ar.Files {
				sections[f.Name] = string(f.Data)
			}
			src, ok := sections["input.runa"]
			if !ok {
				t.Fatal("archive has no input.runa")
			}

			var out bytes.Buffer
			vm := bytecode.NewVM(bytecode.WithOutput(&out))
			_, runErr := Run(vm, src)

			if want, ok := sections["error"]; ok {
				if runErr == nil {
					t.Fatalf("expected error %q, program succeeded with output:\n%s", want, out.String())
				}
				if got := runErr.Error(); got != strings.TrimSpace(want) {
					t.Errorf("error = %q, want %q", got, strings.TrimSpace(want))
				}
			} else if runErr != nil {
				t.Fatalf("unexpected error: %v", runErr)
			}

			if want, ok := sections["stdout"]; ok {
				if got := out.String(); got != want {
					t.Errorf("stdout mismatch\ngot:\n%s\nwant:\n%s", got, want)
				}
			}
		})
	}
}

func TestIntegrationHostCall(t *testing.T) {
	vm := bytecode.NewVM(bytecode.WithOutput(&bytes.Buffer{}))
	src := `Process called "Add" that takes a as Integer, b as Integer returns Integer:
    Return a + b
End Process`
	if _, err := Run(vm, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fn, ok := vm.Global(bytecode.GlobalKey("add"))
	if !ok {
		t.Fatal("process add not bound as a global")
	}
	result, err := vm.Call(fn, bytecode.IntegerValue(2), bytecode.IntegerValue(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Kind != bytecode.KindInteger || result.Int != 5 {
		t.Errorf("Add(2, 3) = %v, want Integer 5", result)
	}
}

func TestIntegrationListRoundTrip(t *testing.T) {
	s := NewSession(bytecode.WithOutput(&bytes.Buffer{}))
	v, ok, err := s.Eval("[1, 2, 3]")
	if err != nil || !ok {
		t.Fatalf("Eval: %v, %v", ok, err)
	}
	want := bytecode.ListValue([]bytecode.Value{
		bytecode.IntegerValue(1), bytecode.IntegerValue(2), bytecode.IntegerValue(3),
	})
	if !v.Equal(want) {
		t.Errorf("list = %v, want %v", v, want)
	}

	for i := 0; i < 3; i++ {
		v, _, err := s.Eval("[1, 2, 3][" + string(rune('0'+i)) + "]")
		if err != nil {
			t.Fatalf("Eval index %d: %v", i, err)
		}
		if v.Int != int64(i+1) {
			t.Errorf("[1, 2, 3][%d] = %v, want %d", i, v, i+1)
		}
	}
}

func TestRunResults(t *testing.T) {
	tests := []struct {
		src  string
		want bytecode.InterpretResult
	}{
		{"Print 1", bytecode.InterpretOk},
		{"Print (", bytecode.InterpretCompileError},
		{"Print missing", bytecode.InterpretCompileError},
		{"Print 1 / 0", bytecode.InterpretRuntimeError},
	}
	for _, tc := range tests {
		vm := bytecode.NewVM(bytecode.WithOutput(&bytes.Buffer{}))
		got, _ := Run(vm, tc.src)
		if got != tc.want {
			t.Errorf("Run(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}

	vm := bytecode.NewVM(bytecode.WithOutput(&bytes.Buffer{}))
	_, err := Run(vm, "Print 1 / 0")
	var rerr *bytecode.RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error %T, want *bytecode.RuntimeError", err)
	}
	if rerr.Frame.Line != 1 || rerr.Frame.Function != "script" {
		t.Errorf("frame = %+v", rerr.Frame)
	}
}

func TestRunCamelCaseProcessName(t *testing.T) {
	for _, decl := range []string{"AddNumbers", "Add Numbers", "add numbers"} {
		var out bytes.Buffer
		vm := bytecode.NewVM(bytecode.WithOutput(&out))
		src := `Process called "` + decl + `" that takes a, b:
    Return a + b
End Process
Print AddNumbers(1, 2)`
		if _, err := Run(vm, src); err != nil {
			t.Errorf("declared as %q: Run: %v", decl, err)
			continue
		}
		if out.String() != "3\n" {
			t.Errorf("declared as %q: printed %q, want %q", decl, out.String(), "3\n")
		}
	}
}

func TestRunRecursionLimit(t *testing.T) {
	vm := bytecode.NewVM(bytecode.WithOutput(&bytes.Buffer{}), bytecode.WithMaxFrames(64))
	src := `Process called "Forever" that takes n:
    Return Forever(n + 1)
End Process
Print Forever(0)`
	_, err := Run(vm, src)
	if err == nil || !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("error = %v, want stack overflow", err)
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionKeepsDeclarations(t *testing.T) {
	var out bytes.Buffer
	s := NewSession(bytecode.WithOutput(&out))

	if _, ok, err := s.Eval("Let x be 2"); err != nil || ok {
		t.Fatalf("Let: ok=%v err=%v", ok, err)
	}
	v, ok, err := s.Eval("x * 21")
	if err != nil || !ok {
		t.Fatalf("x * 21: ok=%v err=%v", ok, err)
	}
	if v.Int != 42 {
		t.Errorf("x * 21 = %v, want 42", v)
	}

	if _, _, err := s.Eval("Process called \"Double\" that takes n:\n  Return n * 2\nEnd Process"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	v, _, err = s.Eval("Double(x)")
	if err != nil {
		t.Fatalf("Double(x): %v", err)
	}
	if v.Int != 4 {
		t.Errorf("Double(x) = %v, want 4", v)
	}

	if _, _, err := s.Eval("Print x"); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q, want %q", out.String(), "2\n")
	}

	// Assignments do not echo.
	if _, ok, err := s.Eval("Set x to 3"); err != nil || ok {
		t.Errorf("Set: ok=%v err=%v", ok, err)
	}
	if v, _, _ := s.Eval("x"); v.Int != 3 {
		t.Errorf("x after Set = %v, want 3", v)
	}
}

func TestSessionRollsBackFailedInput(t *testing.T) {
	s := NewSession(bytecode.WithOutput(&bytes.Buffer{}))
	if _, _, err := s.Eval("Let x be 1"); err != nil {
		t.Fatal(err)
	}

	// Runtime failure: y must not stay declared.
	if _, _, err := s.Eval("Let y be 1 / 0"); err == nil {
		t.Fatal("expected division by zero")
	}
	if _, _, err := s.Eval("Let y be 5"); err != nil {
		t.Fatalf("redeclare after runtime error: %v", err)
	}

	// Semantic failure.
	if _, _, err := s.Eval(`Let z be "a" + 1`); err == nil {
		t.Fatal("expected semantic error")
	}
	if _, _, err := s.Eval("Let z be 7"); err != nil {
		t.Fatalf("redeclare after semantic error: %v", err)
	}

	v, _, err := s.Eval("x + y + z")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v.Int != 13 {
		t.Errorf("x + y + z = %v, want 13", v)
	}
	if got := s.VM().StackDepth(); got != 3 {
		t.Errorf("stack depth = %d, want 3 locals", got)
	}
}

func TestSessionIncompleteInput(t *testing.T) {
	s := NewSession()
	_, _, err := s.Eval("If true:\n  Print 1")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if !perr.Incomplete {
		t.Errorf("unclosed If not reported as incomplete")
	}

	_, _, err = s.Eval("Print )")
	if !errors.As(err, &perr) || perr.Incomplete {
		t.Errorf("stray ')' reported as incomplete: %v", err)
	}
}
