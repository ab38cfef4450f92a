package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/runa-lang/runa/pkg/bytecode"
	"github.com/runa-lang/runa/pkg/store"
)

var log = commonlog.GetLogger("runa.server")

// RunaServer serves runa.v1.EvalService over Connect (HTTP/JSON) and gRPC.
// Connect and gRPC listen on separate addresses.
type RunaServer struct {
	worker   *VMWorker
	sessions *SessionStore
	service  *EvalService
	mux      *http.ServeMux
	grpc     *grpc.Server
	health   *health.Server
	http     *http.Server

	stopSweeper func()
}

// ServerOption configures a RunaServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache         *store.ChunkCache
	vmOpts        []bytecode.Option
	sessionTTL    time.Duration
	sweepInterval time.Duration
}

// WithChunkCache makes Run reuse compiled chunks from cache.
func WithChunkCache(cache *store.ChunkCache) ServerOption {
	return func(c *serverConfig) { c.cache = cache }
}

// WithVMOptions configures every VM the server creates.
func WithVMOptions(opts ...bytecode.Option) ServerOption {
	return func(c *serverConfig) { c.vmOpts = append(c.vmOpts, opts...) }
}

// WithSessionTTL sets how long an idle session survives. Zero disables
// sweeping.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) { c.sessionTTL = ttl }
}

// New creates a RunaServer and starts its VM worker.
func New(opts ...ServerOption) (*RunaServer, error) {
	cfg := &serverConfig{
		sessionTTL:    30 * time.Minute,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sessions := NewSessionStore(cfg.vmOpts...)
	worker := NewVMWorker(sessions)
	svc := NewEvalService(worker, cfg.cache, cfg.vmOpts...)
	handlers := svc.handlers()

	names := make([]string, len(handlers))
	for i, h := range handlers {
		names[i] = h.name
	}
	if err := registerDescriptor(names); err != nil {
		worker.Stop()
		return nil, err
	}

	s := &RunaServer{
		worker:   worker,
		sessions: sessions,
		service:  svc,
		mux:      http.NewServeMux(),
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
	}

	for _, h := range handlers {
		procedure := "/" + serviceName + "/" + h.name
		s.mux.Handle(procedure, connectHandler(procedure, h.handler))
	}

	s.grpc.RegisterService(serviceDesc(handlers), svc)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s.grpc)

	if cfg.sessionTTL > 0 {
		s.stopSweeper = sessions.StartSweeper(cfg.sweepInterval, cfg.sessionTTL)
	}
	return s, nil
}

func connectHandler(procedure string, h structHandler) http.Handler {
	return connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			out, err := h(ctx, req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(out), nil
		})
}

// Service returns the service implementation.
func (s *RunaServer) Service() *EvalService {
	return s.service
}

// Handler returns the Connect HTTP handler.
func (s *RunaServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves Connect on addr until Stop is called.
func (s *RunaServer) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	log.Infof("Connect listening on http://%s/%s/Eval", addr, serviceName)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeGRPC serves gRPC on lis until Stop is called.
func (s *RunaServer) ServeGRPC(lis net.Listener) error {
	log.Infof("gRPC listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down both transports and the VM worker.
func (s *RunaServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			log.Warningf("http shutdown: %s", err)
		}
	}
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
