package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/runa-lang/runa/manifest"
	"github.com/runa-lang/runa/pkg/bytecode"
	"github.com/runa-lang/runa/pkg/store"
	"github.com/runa-lang/runa/server"
)

// serveCommand handles `runa serve`.
func (a *app) serveCommand(args []string) int {
	fs, common := a.newFlagSet("serve", "[options]")
	addr := fs.String("addr", "", "Connect (HTTP/JSON) address (default from runa.toml, else "+manifest.DefaultAddr+")")
	grpcAddr := fs.String("grpc-addr", "", "gRPC address (default from runa.toml, else "+manifest.DefaultGRPCAddr+")")
	noCache := fs.Bool("no-cache", false, "Compile without the chunk cache")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}

	m, ok := a.loadManifest()
	if !ok {
		return exitFailure
	}
	httpAddr, rpcAddr := manifest.DefaultAddr, manifest.DefaultGRPCAddr
	frames := manifest.DefaultMaxFrames
	if m != nil {
		httpAddr, rpcAddr, frames = m.Server.Addr, m.Server.GRPCAddr, m.Run.MaxFrames
	}
	if *addr != "" {
		httpAddr = *addr
	}
	if *grpcAddr != "" {
		rpcAddr = *grpcAddr
	}

	opts := []server.ServerOption{server.WithVMOptions(bytecode.WithMaxFrames(frames))}
	var cache *store.ChunkCache
	if !*noCache && (m == nil || m.CacheEnabled()) {
		if cache = a.openCache(m); cache != nil {
			defer cache.Close()
			opts = append(opts, server.WithChunkCache(cache))
		}
	}

	srv, err := server.New(opts...)
	if err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return exitFailure
	}

	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		srv.Stop()
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	go func() { errc <- srv.ServeGRPC(lis) }()
	go func() { errc <- srv.ListenAndServe(httpAddr) }()

	fmt.Fprintf(a.stdout, "Runa server\n")
	fmt.Fprintf(a.stdout, "  Connect (HTTP/JSON): http://%s/runa.v1.EvalService/Eval\n", httpAddr)
	fmt.Fprintf(a.stdout, "  gRPC (binary):       grpc://%s\n", lis.Addr())

	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		if err != nil {
			fmt.Fprintf(a.stderr, "runa: server error: %v\n", err)
			code = exitFailure
		}
	}
	srv.Stop()
	return code
}

// lspCommand handles `runa lsp`.
func (a *app) lspCommand(args []string) int {
	fs, common := a.newFlagSet("lsp", "[options]")
	if code, ok := parseFlags(fs, common, args); !ok {
		return code
	}
	if err := server.NewLSP().Run(); err != nil {
		fmt.Fprintf(a.stderr, "runa: %v\n", err)
		return exitFailure
	}
	return exitOK
}
