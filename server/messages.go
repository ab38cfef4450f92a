package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// ---------------------------------------------------------------------------
// Request and response messages of runa.v1.EvalService.
//
// On the wire every message is a google.protobuf.Struct; these types are the
// typed view the service works with. Field names match the JSON keys.
// ---------------------------------------------------------------------------

// request is implemented by pointers to request messages.
type request interface {
	decode(*structpb.Struct)
}

// response is implemented by response messages.
type response interface {
	encode() map[string]any
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// SourceRequest carries a program. SessionID is optional.
type SourceRequest struct {
	Source    string
	SessionID string
}

func (r *SourceRequest) decode(in *structpb.Struct) {
	r.Source = stringField(in, "source")
	r.SessionID = stringField(in, "session_id")
}

// EvalResponse reports the outcome of Eval and Run.
type EvalResponse struct {
	Success      bool
	Output       string // text printed by the program
	Result       string // display form of the final expression, if any
	HasResult    bool
	ErrorMessage string
	Stage        string // parse, semantic, codegen or runtime
	Backtrace    string
	Cached       bool // Run only: chunk came from the cache
}

func (r *EvalResponse) encode() map[string]any {
	m := map[string]any{
		"success": r.Success,
		"output":  r.Output,
	}
	if r.HasResult {
		m["result"] = r.Result
	}
	if r.ErrorMessage != "" {
		m["error_message"] = r.ErrorMessage
		m["stage"] = r.Stage
	}
	if r.Backtrace != "" {
		m["backtrace"] = r.Backtrace
	}
	if r.Cached {
		m["cached"] = true
	}
	return m
}

// CheckResponse lists every diagnostic found in a program.
type CheckResponse struct {
	Valid       bool
	Diagnostics []Diagnostic
}

func (r *CheckResponse) encode() map[string]any {
	diags := make([]any, len(r.Diagnostics))
	for i, d := range r.Diagnostics {
		diags[i] = map[string]any{
			"line":    d.Line,
			"column":  d.Column,
			"stage":   d.Stage,
			"message": d.Message,
		}
	}
	return map[string]any{"valid": r.Valid, "diagnostics": diags}
}

// DisassembleResponse carries a bytecode listing.
type DisassembleResponse struct {
	Listing string
}

func (r *DisassembleResponse) encode() map[string]any {
	return map[string]any{"listing": r.Listing}
}

// CreateSessionRequest names a new session.
type CreateSessionRequest struct {
	Name string
}

func (r *CreateSessionRequest) decode(in *structpb.Struct) {
	r.Name = stringField(in, "name")
}

// SessionResponse identifies a session.
type SessionResponse struct {
	SessionID string
}

func (r *SessionResponse) encode() map[string]any {
	return map[string]any{"session_id": r.SessionID}
}

// SessionRequest identifies a session.
type SessionRequest struct {
	SessionID string
}

func (r *SessionRequest) decode(in *structpb.Struct) {
	r.SessionID = stringField(in, "session_id")
}

// CompleteRequest asks for names starting with Prefix.
type CompleteRequest struct {
	Prefix    string
	SessionID string
}

func (r *CompleteRequest) decode(in *structpb.Struct) {
	r.Prefix = stringField(in, "prefix")
	r.SessionID = stringField(in, "session_id")
}

// CompleteResponse lists completion candidates.
type CompleteResponse struct {
	Completions []string
}

func (r *CompleteResponse) encode() map[string]any {
	items := make([]any, len(r.Completions))
	for i, c := range r.Completions {
		items[i] = c
	}
	return map[string]any{"completions": items}
}

// structHandler is the transport-neutral form of one RPC.
type structHandler func(context.Context, *structpb.Struct) (*structpb.Struct, error)

// bind adapts a typed service method to a structHandler.
func bind[Req any, PReq interface {
	*Req
	request
}, Res response](call func(context.Context, PReq) (Res, error)) structHandler {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		req := PReq(new(Req))
		req.decode(in)
		res, err := call(ctx, req)
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(res.encode())
	}
}
