package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestServer(t *testing.T, opts ...ServerOption) *RunaServer {
	t.Helper()
	srv, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestConnect_Eval(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := connect.NewClient[structpb.Struct, structpb.Struct](
		ts.Client(), ts.URL+"/"+serviceName+"/Eval")

	resp, err := client.CallUnary(bg(), connect.NewRequest(mustStruct(t, map[string]any{
		"source": "Print \"hello\"\n6 * 7",
	})))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	fields := resp.Msg.GetFields()
	if !fields["success"].GetBoolValue() {
		t.Fatalf("Eval failed: %v", resp.Msg)
	}
	if got := fields["output"].GetStringValue(); got != "hello\n" {
		t.Errorf("output = %q, want %q", got, "hello\n")
	}
	if got := fields["result"].GetStringValue(); got != "42" {
		t.Errorf("result = %q, want 42", got)
	}
}

func TestConnect_JSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/"+serviceName+"/Check", "application/json",
		strings.NewReader(`{"source": "Print nowhere"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Valid       bool `json:"valid"`
		Diagnostics []struct {
			Line    int    `json:"line"`
			Stage   string `json:"stage"`
			Message string `json:"message"`
		} `json:"diagnostics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Valid || len(body.Diagnostics) != 1 {
		t.Fatalf("body = %+v, want one diagnostic", body)
	}
	if d := body.Diagnostics[0]; d.Line != 1 || d.Stage != "semantic" || !strings.Contains(d.Message, "nowhere") {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestConnect_ErrorCode(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := connect.NewClient[structpb.Struct, structpb.Struct](
		ts.Client(), ts.URL+"/"+serviceName+"/DestroySession")
	_, err := client.CallUnary(bg(), connect.NewRequest(mustStruct(t, map[string]any{
		"session_id": "s-404",
	})))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want NotFound", connect.CodeOf(err))
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T, srv *RunaServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go srv.ServeGRPC(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_SessionRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)
	ctx := bg()

	created := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+serviceName+"/CreateSession", mustStruct(t, map[string]any{"name": "grpc"}), created); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := created.GetFields()["session_id"].GetStringValue()
	if id == "" {
		t.Fatal("CreateSession returned no session_id")
	}

	for _, src := range []string{"Let n be 20", "n + 22"} {
		out := new(structpb.Struct)
		if err := conn.Invoke(ctx, "/"+serviceName+"/Eval", mustStruct(t, map[string]any{"source": src, "session_id": id}), out); err != nil {
			t.Fatalf("Eval(%q): %v", src, err)
		}
		if !out.GetFields()["success"].GetBoolValue() {
			t.Fatalf("Eval(%q) failed: %v", src, out)
		}
		if src == "n + 22" && out.GetFields()["result"].GetStringValue() != "42" {
			t.Errorf("result = %v, want 42", out.GetFields()["result"])
		}
	}
}

func TestGRPC_StatusCode(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	out := new(structpb.Struct)
	err := conn.Invoke(bg(), "/"+serviceName+"/Eval", mustStruct(t, map[string]any{}), out)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestGRPC_Health(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	resp, err := healthpb.NewHealthClient(conn).Check(bg(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}

func TestGRPC_Reflection(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	client := grpcreflect.NewClientAuto(bg(), conn)
	defer client.Reset()

	services, err := client.ListServices()
	if err != nil {
		t.Fatalf("ListServices: %v", err)
	}
	found := false
	for _, name := range services {
		if name == serviceName {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListServices = %v, missing %s", services, serviceName)
	}

	sd, err := client.ResolveService(serviceName)
	if err != nil {
		t.Fatalf("ResolveService: %v", err)
	}
	var methods []string
	for _, m := range sd.GetMethods() {
		methods = append(methods, m.GetName())
		if in := m.GetInputType().GetFullyQualifiedName(); in != "google.protobuf.Struct" {
			t.Errorf("%s input = %s, want google.protobuf.Struct", m.GetName(), in)
		}
	}
	sort.Strings(methods)
	want := "Check,Complete,CreateSession,DestroySession,Disassemble,Eval,Run"
	if got := strings.Join(methods, ","); got != want {
		t.Errorf("methods = %s, want %s", got, want)
	}
}
