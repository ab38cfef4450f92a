package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var updateGolden = flag.Bool("update", false, "rewrite testdata/*.golden from the current serializer")

// TestGoldenFiles pins the serialized form and hash of known programs.
// Format drift orphans every cached chunk, so a mismatch must be a
// deliberate HashVersion bump followed by `go test -update`.
func TestGoldenFiles(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{name: "print_literal", src: "Print 1"},
		{name: "locals_arithmetic", src: "Let x be 2\nLet y be 3\nPrint x * y + 1"},
		{name: "process_call", src: "Process called \"Add\" that takes a, b:\n  Return a + b\nEnd Process\nPrint Add(1, 2)"},
		{name: "for_range", src: "For i from 1 to 10 by 2:\n  Display i\nEnd For"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := Serialize(NormalizeProgram(check(t, tc.src)))
			h := sha256.Sum256(data)
			serializedHex := hex.EncodeToString(data)
			hashHex := hex.EncodeToString(h[:])

			goldenPath := filepath.Join("testdata", tc.name+".golden")
			if *updateGolden {
				content := serializedHex + "\n" + hashHex + "\n"
				if err := os.WriteFile(goldenPath, []byte(content), 0o644); err != nil {
					t.Fatalf("write golden file: %v", err)
				}
				return
			}

			expected, err := os.ReadFile(goldenPath)
			if err != nil {
				t.Fatalf("read golden file (run with -update to create it): %v", err)
			}
			lines := strings.Split(strings.TrimSpace(string(expected)), "\n")
			if len(lines) != 2 {
				t.Fatalf("golden file %s: expected 2 lines, got %d", goldenPath, len(lines))
			}
			if serializedHex != lines[0] {
				t.Errorf("serialized bytes mismatch:\n  got:  %s\n  want: %s", serializedHex, lines[0])
			}
			if hashHex != lines[1] {
				t.Errorf("hash mismatch:\n  got:  %s\n  want: %s", hashHex, lines[1])
			}
		})
	}
}
