package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/manifest"
	"github.com/runa-lang/runa/pkg/bytecode"
)

// replCommand handles `runa repl` and a bare `runa`.
func (a *app) replCommand(args []string) int {
	fs, common := a.newFlagSet("repl", "[options]")
	maxFrames := fs.Int("max-frames", manifest.DefaultMaxFrames, "Call depth limit")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}

	r := newREPL(a.stdout, a.stderr, bytecode.WithMaxFrames(*maxFrames))
	if f, ok := a.stdin.(*os.File); ok && isInteractive(f) {
		fmt.Fprintln(a.stdout, "Runa REPL (type :help for commands, :quit to leave)")
		r.interactive()
	} else {
		r.buffered(bufio.NewReader(a.stdin))
	}
	return exitOK
}

// repl evaluates input against one compiler session. Input is buffered
// until it parses or fails for a reason other than running out of text, so
// blocks can span lines.
type repl struct {
	session *compiler.Session
	vmOpts  []bytecode.Option
	out     io.Writer
	errOut  io.Writer
	buffer  strings.Builder
}

func newREPL(out, errOut io.Writer, opts ...bytecode.Option) *repl {
	vmOpts := append([]bytecode.Option{bytecode.WithOutput(out)}, opts...)
	return &repl{
		session: compiler.NewSession(vmOpts...),
		vmOpts:  vmOpts,
		out:     out,
		errOut:  errOut,
	}
}

// feed adds one line of input. It reports whether the REPL should keep
// reading and whether the buffered input was consumed.
func (r *repl) feed(line string) (more, pending bool) {
	if r.buffer.Len() == 0 {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return true, false
		}
		if strings.HasPrefix(trimmed, ":") || trimmed == "exit" || trimmed == "quit" {
			return r.command(trimmed), false
		}
	}

	r.buffer.WriteString(line)
	r.buffer.WriteString("\n")
	src := r.buffer.String()

	if _, err := compiler.Parse(src); err != nil {
		var perr *compiler.ParseError
		if errors.As(err, &perr) && perr.Incomplete {
			return true, true
		}
	}
	r.buffer.Reset()
	r.eval(src)
	return true, false
}

// flush evaluates whatever is buffered, reporting the error if the input is
// still incomplete.
func (r *repl) flush() {
	if r.buffer.Len() == 0 {
		return
	}
	src := r.buffer.String()
	r.buffer.Reset()
	r.eval(src)
}

func (r *repl) eval(src string) {
	value, ok, err := r.session.Eval(src)
	if err != nil {
		fmt.Fprintf(r.errOut, "error: %v\n", err)
		var rerr *bytecode.RuntimeError
		if errors.As(err, &rerr) {
			fmt.Fprint(r.errOut, rerr.Backtrace())
		}
		return
	}
	if ok {
		fmt.Fprintln(r.out, value.String())
	}
}

// command runs a meta-command. It returns false when the REPL should exit.
func (r *repl) command(cmd string) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(r.out, "  :vars             List declared variables and their types")
		fmt.Fprintln(r.out, "  :type <name>      Show the type of a variable or process")
		fmt.Fprintln(r.out, "  :reset            Discard every declaration")
		fmt.Fprintln(r.out, "  :quit, exit       Leave the REPL")
	case ":vars":
		locals := r.session.Analyzer().Locals()
		names := make([]string, 0, len(locals))
		for name := range locals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(r.out, "%s: %s\n", strings.Trim(name, `"`), locals[name])
		}
	case ":type":
		if len(fields) < 2 {
			fmt.Fprintln(r.errOut, "usage: :type <name>")
			break
		}
		name := strings.Join(fields[1:], " ")
		if t, ok := r.session.Analyzer().Locals()[name]; ok {
			fmt.Fprintf(r.out, "%s: %s\n", name, t)
		} else if t, ok := r.session.Analyzer().LookupGlobal(bytecode.GlobalKey(compiler.CanonicalName(name))); ok {
			fmt.Fprintf(r.out, "%s: %s\n", name, t)
		} else {
			fmt.Fprintf(r.errOut, "unknown name %q\n", name)
		}
	case ":reset":
		r.session = compiler.NewSession(r.vmOpts...)
		fmt.Fprintln(r.out, "session reset")
	case ":quit", ":q", "exit", "quit":
		return false
	default:
		fmt.Fprintf(r.errOut, "unknown command: %s (type :help for commands)\n", fields[0])
	}
	return true
}

// complete returns candidate lines for the word before the end of line.
func (r *repl) complete(line string) []string {
	start := strings.LastIndexFunc(line, func(c rune) bool {
		return !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
	}) + 1
	head, word := line[:start], strings.ToLower(line[start:])
	if word == "" {
		return nil
	}

	var names []string
	names = append(names, compiler.Keywords()...)
	for _, b := range bytecode.Builtins {
		names = append(names, b.Name)
	}
	for name := range r.session.Analyzer().Locals() {
		names = append(names, strings.Trim(name, `"`))
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), word) {
			out = append(out, head+name)
		}
	}
	return out
}

func (r *repl) buffered(reader *bufio.Reader) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(r.errOut, "read error: %v\n", err)
			return
		}
		if line != "" {
			more, _ := r.feed(strings.TrimSuffix(line, "\n"))
			if !more {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			r.flush()
			return
		}
	}
}

func (r *repl) interactive() {
	state := liner.NewLiner()
	defer state.Close()
	state.SetCtrlCAborts(true)
	state.SetCompleter(r.complete)

	historyPath := replHistoryPath()
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			state.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(historyPath); err == nil {
				state.WriteHistory(f)
				f.Close()
			}
		}()
	}

	for {
		prompt := "runa> "
		if r.buffer.Len() > 0 {
			prompt = "....> "
		}
		input, err := state.Prompt(prompt)
		if err != nil {
			switch {
			case errors.Is(err, liner.ErrPromptAborted):
				fmt.Fprintln(r.out)
				r.buffer.Reset()
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(r.out)
				r.flush()
				return
			default:
				fmt.Fprintf(r.errOut, "read error: %v\n", err)
				return
			}
		}

		before := r.buffer.String()
		more, pending := r.feed(input)
		if !pending {
			if entry := strings.TrimSpace(before + input); entry != "" {
				state.AppendHistory(entry)
			}
		}
		if !more {
			return
		}
	}
}

func replHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".runa_history")
}

func isInteractive(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
