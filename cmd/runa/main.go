// Runa CLI - runs, checks and compiles Runa programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/runa-lang/runa/manifest"
	"github.com/runa-lang/runa/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitCompile = 65 // EX_DATAERR
	exitRuntime = 70 // EX_SOFTWARE
)

var log = commonlog.GetLogger("runa.cli")

func main() {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(a.main(os.Args[1:]))
}

// app holds the standard streams so commands can be driven from tests.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) int
}

var commands []command

func init() {
	commands = []command{
		{"run", "Run a program (source or .rbc)", (*app).runCommand},
		{"check", "Report diagnostics without running", (*app).checkCommand},
		{"build", "Compile a program to a .rbc bytecode file", (*app).buildCommand},
		{"disasm", "Print the bytecode listing of a program", (*app).disasmCommand},
		{"repl", "Start an interactive session", (*app).replCommand},
		{"serve", "Serve the evaluation API over Connect and gRPC", (*app).serveCommand},
		{"lsp", "Run the language server on stdio", (*app).lspCommand},
		{"cache", "Inspect or prune the compiled chunk cache", (*app).cacheCommand},
		{"profile", "Query stored opcode profiles", (*app).profileCommand},
	}
}

func (a *app) usage() {
	fmt.Fprintf(a.stderr, "Usage: runa <command> [options] [args]\n\n")
	fmt.Fprintf(a.stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(a.stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(a.stderr, "\nWith no command, runa starts the REPL. A file argument alone runs it:\n")
	fmt.Fprintf(a.stderr, "  runa hello.runa\n")
	fmt.Fprintf(a.stderr, "\nRun 'runa <command> -h' for command options.\n")
}

func (a *app) main(args []string) int {
	if len(args) == 0 {
		return a.replCommand(nil)
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		a.usage()
		return exitOK
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(a, args[1:])
		}
	}
	if strings.HasSuffix(args[0], ".runa") || strings.HasSuffix(args[0], ".rbc") {
		return a.runCommand(args)
	}
	fmt.Fprintf(a.stderr, "runa: unknown command %q\n\n", args[0])
	a.usage()
	return exitUsage
}

// commonFlags are accepted by every command.
type commonFlags struct {
	verbose int
	logPath string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.BoolFunc("v", "Increase log verbosity (repeatable, or -v=N)", func(s string) error {
		if s == "true" {
			c.verbose++
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid verbosity %q", s)
		}
		c.verbose = n
		return nil
	})
	fs.StringVar(&c.logPath, "log", "", "Write logs to this file instead of stderr")
}

// configureLogging applies the common flags. Without -v only errors are
// logged, so program output is not interleaved with log lines.
func (c *commonFlags) configureLogging() {
	var path *string
	if c.logPath != "" {
		path = &c.logPath
	}
	commonlog.Configure(c.verbose, path)
}

// newFlagSet creates a flag set that reports errors instead of exiting.
func (a *app) newFlagSet(name, usage string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: runa %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	common := &commonFlags{}
	common.register(fs)
	return fs, common
}

// parseFlags parses args and reports the exit code to use when parsing
// stopped the command.
func parseFlags(fs *flag.FlagSet, common *commonFlags, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	common.configureLogging()
	return 0, true
}

// loadManifest finds runa.toml from the working directory. A missing
// manifest is not an error; an invalid one is.
func (a *app) loadManifest() (*manifest.Manifest, bool) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return nil, false
	}
	if m != nil {
		log.Debugf("using manifest %s", filepath.Join(m.Dir, manifest.FileName))
	}
	return m, true
}

// resolveEntry picks the program to operate on: the first argument, or
// the manifest entry.
func (a *app) resolveEntry(args []string, m *manifest.Manifest) (string, bool) {
	if len(args) > 0 {
		return args[0], true
	}
	if m != nil {
		return m.EntryPath(), true
	}
	fmt.Fprintf(a.stderr, "runa: no input file and no %s found\n", manifest.FileName)
	return "", false
}

// loadChunk reads a .rbc file.
func loadChunk(path string) (*bytecode.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytecode.UnmarshalChunk(data)
}
