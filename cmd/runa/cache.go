package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/runa-lang/runa/pkg/profile"
)

// cacheCommand handles `runa cache stats|prune|path`.
func (a *app) cacheCommand(args []string) int {
	fs, common := a.newFlagSet("cache", "[options] stats | prune | path")
	keep := fs.Int("keep", 256, "Entries to keep when pruning")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	m, ok := a.loadManifest()
	if !ok {
		return exitFailure
	}
	cache := a.openCache(m)
	if cache == nil {
		fmt.Fprintln(a.stderr, "runa: chunk cache unavailable")
		return exitFailure
	}
	defer cache.Close()

	switch fs.Arg(0) {
	case "path":
		fmt.Fprintln(a.stdout, cache.Path())
	case "stats":
		st, err := cache.Stats()
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "path\t%s\n", cache.Path())
		fmt.Fprintf(tw, "entries\t%d\n", st.Entries)
		fmt.Fprintf(tw, "bytes\t%d\n", st.Bytes)
		fmt.Fprintf(tw, "hits\t%d\n", st.Hits)
		tw.Flush()
	case "prune":
		n, err := cache.Prune(*keep)
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(a.stdout, "removed %d entries\n", n)
	default:
		fs.Usage()
		return exitUsage
	}
	return exitOK
}

// profileCommand handles `runa profile top|runs`.
func (a *app) profileCommand(args []string) int {
	fs, common := a.newFlagSet("profile", "-db file.duckdb [options] top | runs")
	dbPath := fs.String("db", "", "DuckDB profile store (default from runa.toml)")
	run := fs.String("run", "", "Restrict top to one run")
	n := fs.Int("n", 20, "Rows to show")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	path := *dbPath
	if path == "" {
		m, ok := a.loadManifest()
		if !ok {
			return exitFailure
		}
		if m != nil {
			path = m.ProfilePath()
		}
	}
	if path == "" {
		fmt.Fprintln(a.stderr, "runa: no profile store; pass -db or set [run] profile in runa.toml")
		return exitUsage
	}

	db, err := profile.OpenStore(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return exitFailure
	}
	defer db.Close()
	ctx := context.Background()

	switch fs.Arg(0) {
	case "runs":
		runs, err := db.Runs(ctx)
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		for _, r := range runs {
			fmt.Fprintln(a.stdout, r)
		}
	case "top":
		samples, err := db.Top(ctx, *run, *n)
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
		if err := profile.WriteReport(a.stdout, samples); err != nil {
			fmt.Fprintf(a.stderr, "runa: %v\n", err)
			return exitFailure
		}
	default:
		fmt.Fprintf(a.stderr, "runa: unknown profile action %s\n", strconv.Quote(fs.Arg(0)))
		return exitUsage
	}
	return exitOK
}
