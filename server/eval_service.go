package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"connectrpc.com/connect"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/pkg/bytecode"
	"github.com/runa-lang/runa/pkg/store"
)

// EvalService implements runa.v1.EvalService for both Connect and gRPC.
type EvalService struct {
	worker *VMWorker
	cache  *store.ChunkCache // may be nil
	vmOpts []bytecode.Option
}

// NewEvalService creates an EvalService. cache may be nil.
func NewEvalService(worker *VMWorker, cache *store.ChunkCache, vmOpts ...bytecode.Option) *EvalService {
	return &EvalService{worker: worker, cache: cache, vmOpts: vmOpts}
}

// handlers lists the service methods by name, in descriptor order.
func (s *EvalService) handlers() []namedHandler {
	return []namedHandler{
		{"Eval", bind(s.Eval)},
		{"Run", bind(s.Run)},
		{"Check", bind(s.Check)},
		{"Disassemble", bind(s.Disassemble)},
		{"CreateSession", bind(s.CreateSession)},
		{"DestroySession", bind(s.DestroySession)},
		{"Complete", bind(s.Complete)},
	}
}

type namedHandler struct {
	name    string
	handler structHandler
}

// Eval evaluates source incrementally. With a session ID the declarations
// persist in that session; without one a throwaway session is used. When
// the input ends in an expression its value is returned as Result.
func (s *EvalService) Eval(ctx context.Context, req *SourceRequest) (*EvalResponse, error) {
	if req.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	result, err := s.worker.Do(func(st *SessionStore) interface{} {
		session := st.Ephemeral()
		if req.SessionID != "" {
			var ok bool
			if session, ok = st.Get(req.SessionID); !ok {
				return connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", req.SessionID))
			}
		}
		return evaluate(session, req.Source)
	})
	if err != nil {
		return &EvalResponse{ErrorMessage: err.Error(), Stage: "internal"}, nil
	}
	if cerr, ok := result.(*connect.Error); ok {
		return nil, cerr
	}
	return result.(*EvalResponse), nil
}

// evaluate runs one input on a session. Must be called on the VM worker
// goroutine.
func evaluate(session *Session, source string) *EvalResponse {
	session.out.Reset()
	value, ok, err := session.repl.Eval(source)
	resp := &EvalResponse{Output: session.out.String()}
	if err != nil {
		fillError(resp, err)
		return resp
	}
	resp.Success = true
	if ok {
		resp.Result, resp.HasResult = value.String(), true
	}
	return resp
}

func fillError(resp *EvalResponse, err error) {
	d := diagnosticFor(err)
	resp.ErrorMessage = err.Error()
	resp.Stage = d.Stage
	var rerr *bytecode.RuntimeError
	if errors.As(err, &rerr) {
		resp.Backtrace = rerr.Backtrace()
	}
}

// Run executes a whole program on a fresh VM, going through the chunk
// cache when one is configured.
func (s *EvalService) Run(ctx context.Context, req *SourceRequest) (*EvalResponse, error) {
	if req.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	prog, _, err := compiler.Check(req.Source)
	if err != nil {
		resp := &EvalResponse{}
		fillError(resp, err)
		return resp, nil
	}

	chunk, cached, err := store.Compile(s.cache, prog)
	if err != nil {
		resp := &EvalResponse{}
		fillError(resp, err)
		return resp, nil
	}

	result, err := s.worker.Do(func(*SessionStore) interface{} {
		var out strings.Builder
		opts := append(append([]bytecode.Option{}, s.vmOpts...), bytecode.WithOutput(&out))
		vm := bytecode.NewVM(opts...)
		resp := &EvalResponse{Cached: cached}
		if _, err := vm.Interpret(chunk); err != nil {
			fillError(resp, err)
		} else {
			resp.Success = true
		}
		resp.Output = out.String()
		return resp
	})
	if err != nil {
		return &EvalResponse{ErrorMessage: err.Error(), Stage: "internal"}, nil
	}
	return result.(*EvalResponse), nil
}

// Check reports every diagnostic in source without running it.
func (s *EvalService) Check(ctx context.Context, req *SourceRequest) (*CheckResponse, error) {
	if req.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	_, _, diags := Diagnose(req.Source)
	return &CheckResponse{Valid: len(diags) == 0, Diagnostics: diags}, nil
}

// Disassemble compiles source and returns its bytecode listing.
func (s *EvalService) Disassemble(ctx context.Context, req *SourceRequest) (*DisassembleResponse, error) {
	if req.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	chunk, err := compiler.Compile(req.Source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return &DisassembleResponse{Listing: chunk.Disassemble("script")}, nil
}

// CreateSession creates a persistent evaluation session.
func (s *EvalService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionResponse, error) {
	session := s.worker.Sessions().Create(req.Name)
	log.Debugf("created session %s", session.ID)
	return &SessionResponse{SessionID: session.ID}, nil
}

// DestroySession discards a session.
func (s *EvalService) DestroySession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	if req.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	if !s.worker.Sessions().Destroy(req.SessionID) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", req.SessionID))
	}
	return &SessionResponse{SessionID: req.SessionID}, nil
}

// Complete returns keywords, builtins and, with a session, its locals and
// processes that start with the prefix (case-insensitive).
func (s *EvalService) Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	result, err := s.worker.Do(func(st *SessionStore) interface{} {
		var names []string
		if req.SessionID != "" {
			session, ok := st.Get(req.SessionID)
			if !ok {
				return connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", req.SessionID))
			}
			names = sessionNames(session.repl)
		}
		return completions(req.Prefix, names)
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if cerr, ok := result.(*connect.Error); ok {
		return nil, cerr
	}
	return &CompleteResponse{Completions: result.([]string)}, nil
}

// sessionNames lists the locals and user processes visible in a session.
func sessionNames(repl *compiler.Session) []string {
	var names []string
	for name := range repl.Analyzer().Locals() {
		if strings.HasPrefix(name, `"`) {
			// Process slots are keyed by their quoted canonical name.
			names = append(names, strings.Trim(name, `"`))
			continue
		}
		names = append(names, name)
	}
	return names
}

// completions merges keywords, builtin names and extra, keeping those that
// start with prefix.
func completions(prefix string, extra []string) []string {
	lower := strings.ToLower(prefix)
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if !seen[name] && strings.HasPrefix(strings.ToLower(name), lower) {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, kw := range compiler.Keywords() {
		add(kw)
	}
	for _, b := range bytecode.Builtins {
		add(b.Name)
	}
	for _, name := range extra {
		add(name)
	}
	sort.Strings(out)
	return out
}
