package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/manifest"
	"github.com/runa-lang/runa/pkg/bytecode"
	"github.com/runa-lang/runa/pkg/profile"
	"github.com/runa-lang/runa/pkg/store"
	"github.com/runa-lang/runa/server"
)

// runCommand handles `runa run`.
func (a *app) runCommand(args []string) int {
	fs, common := a.newFlagSet("run", "[options] [file.runa | file.rbc]")
	noCache := fs.Bool("no-cache", false, "Compile without the chunk cache")
	trace := fs.Bool("trace", false, "Print every executed instruction to stderr")
	prof := fs.Bool("profile", false, "Print an opcode profile to stderr after the run")
	profileDB := fs.String("profile-db", "", "Also store the profile in this DuckDB file")
	maxFrames := fs.Int("max-frames", 0, "Call depth limit (default from runa.toml, else 64)")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}

	m, ok := a.loadManifest()
	if !ok {
		return exitFailure
	}
	path, ok := a.resolveEntry(fs.Args(), m)
	if !ok {
		return exitUsage
	}

	frames := manifest.DefaultMaxFrames
	if m != nil {
		frames = m.Run.MaxFrames
		*trace = *trace || m.Run.Trace
		if *profileDB == "" {
			*profileDB = m.ProfilePath()
		}
	}
	if *maxFrames > 0 {
		frames = *maxFrames
	}

	var chunk *bytecode.Chunk
	if strings.HasSuffix(path, ".rbc") {
		c, err := loadChunk(path)
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		chunk = c
	} else {
		var cache *store.ChunkCache
		if !*noCache && (m == nil || m.CacheEnabled()) {
			cache = a.openCache(m)
			if cache != nil {
				defer cache.Close()
			}
		}
		c, code := a.compileFile(path, cache)
		if c == nil {
			return code
		}
		chunk = c
	}

	var profiler *profile.Profiler
	if *prof || *profileDB != "" {
		profiler = profile.New()
	}
	var traceHook bytecode.TraceHook
	if *trace {
		traceHook = func(info bytecode.TraceInfo) {
			fmt.Fprintf(a.stderr, "[trace] %-12s %04X %-16s stack=%d frames=%d\n",
				info.Function, info.Offset, info.Op, info.StackDepth, info.FrameDepth)
		}
	}
	var profileHook bytecode.TraceHook
	if profiler != nil {
		profileHook = profiler.Hook()
	}

	vm := bytecode.NewVM(
		bytecode.WithOutput(a.stdout),
		bytecode.WithMaxFrames(frames),
		bytecode.WithTraceHook(bytecode.ChainTraceHooks(traceHook, profileHook)),
	)
	_, runErr := vm.Interpret(chunk)

	if profiler != nil {
		profiler.Stop()
		a.reportProfile(profiler, path, *prof, *profileDB)
	}

	if runErr != nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", path, runErr)
		var rerr *bytecode.RuntimeError
		if errors.As(runErr, &rerr) {
			fmt.Fprint(a.stderr, rerr.Backtrace())
		}
		return exitRuntime
	}
	return exitOK
}

func (a *app) reportProfile(p *profile.Profiler, path string, show bool, dbPath string) {
	samples := p.Samples()
	if show {
		fmt.Fprintf(a.stderr, "\n%d instructions\n", p.Total())
		if err := profile.WriteReport(a.stderr, samples); err != nil {
			log.Warningf("write profile: %s", err)
		}
	}
	if dbPath == "" {
		return
	}
	db, err := profile.OpenStore(dbPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "runa: profile store: %v\n", err)
		return
	}
	defer db.Close()
	run := fmt.Sprintf("%s@%s", filepath.Base(path), time.Now().UTC().Format(time.RFC3339))
	if err := db.Export(context.Background(), run, samples); err != nil {
		fmt.Fprintf(a.stderr, "runa: profile store: %v\n", err)
		return
	}
	log.Infof("stored profile %s in %s", run, dbPath)
}

// openCache opens the chunk cache named by the manifest, or the default
// one. Failure to open disables caching rather than failing the command.
func (a *app) openCache(m *manifest.Manifest) *store.ChunkCache {
	path := ""
	if m != nil {
		path = m.CachePath()
	}
	if path == "" {
		p, err := store.DefaultPath()
		if err != nil {
			log.Warningf("chunk cache disabled: %s", err)
			return nil
		}
		path = p
	}
	cache, err := store.Open(path)
	if err != nil {
		log.Warningf("chunk cache disabled: %s", err)
		return nil
	}
	return cache
}

// compileFile parses, analyses and compiles a source file, printing every
// diagnostic on failure. cache may be nil.
func (a *app) compileFile(path string, cache *store.ChunkCache) (*bytecode.Chunk, int) {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return nil, exitFailure
	}
	prog, _, err := compiler.Check(string(src))
	if err != nil {
		a.printDiagnostics(path, string(src))
		return nil, exitCompile
	}
	chunk, _, err := store.Compile(cache, prog)
	if err != nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", path, err)
		return nil, exitCompile
	}
	return chunk, exitOK
}

// printDiagnostics reports every problem in src as "path:line:col: stage: msg".
// It returns the number of diagnostics.
func (a *app) printDiagnostics(path, src string) int {
	_, _, diags := server.Diagnose(src)
	for _, d := range diags {
		loc := path
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", path, d.Line, d.Column)
		}
		fmt.Fprintf(a.stderr, "%s: %s error: %s\n", loc, d.Stage, d.Message)
	}
	return len(diags)
}

// checkCommand handles `runa check`.
func (a *app) checkCommand(args []string) int {
	fs, common := a.newFlagSet("check", "[options] [files...]")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}

	files := fs.Args()
	if len(files) == 0 {
		m, ok := a.loadManifest()
		if !ok {
			return exitFailure
		}
		if m == nil {
			fmt.Fprintf(a.stderr, "runa: no input files and no %s found\n", manifest.FileName)
			return exitUsage
		}
		found, err := m.SourceFiles()
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		files = found
	}

	total := 0
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		total += a.printDiagnostics(path, string(src))
	}
	if total > 0 {
		fmt.Fprintf(a.stderr, "%d problem(s) in %d file(s)\n", total, len(files))
		return exitCompile
	}
	fmt.Fprintf(a.stdout, "ok: %d file(s)\n", len(files))
	return exitOK
}

// buildCommand handles `runa build`.
func (a *app) buildCommand(args []string) int {
	fs, common := a.newFlagSet("build", "[options] [file.runa]")
	output := fs.String("o", "", "Output path (default: input with .rbc extension)")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}

	m, ok := a.loadManifest()
	if !ok {
		return exitFailure
	}
	path, ok := a.resolveEntry(fs.Args(), m)
	if !ok {
		return exitUsage
	}

	chunk, code := a.compileFile(path, nil)
	if chunk == nil {
		return code
	}
	data, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return exitFailure
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".rbc"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return exitFailure
	}
	log.Infof("wrote %s (%d bytes)", out, len(data))
	return exitOK
}

// disasmCommand handles `runa disasm`.
func (a *app) disasmCommand(args []string) int {
	fs, common := a.newFlagSet("disasm", "[options] [file.runa | file.rbc]")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}

	m, ok := a.loadManifest()
	if !ok {
		return exitFailure
	}
	path, ok := a.resolveEntry(fs.Args(), m)
	if !ok {
		return exitUsage
	}

	var chunk *bytecode.Chunk
	if strings.HasSuffix(path, ".rbc") {
		c, err := loadChunk(path)
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		chunk = c
	} else {
		c, code := a.compileFile(path, nil)
		if c == nil {
			return code
		}
		chunk = c
	}
	fmt.Fprint(a.stdout, chunk.Disassemble("script"))
	return exitOK
}
