package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"connectrpc.com/connect"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

// ---------------------------------------------------------------------------
// runa.v1.EvalService over gRPC.
//
// There is no generated code for the service: every method takes and
// returns a google.protobuf.Struct. The file descriptor is assembled at
// startup and registered globally so server reflection can describe it.
// ---------------------------------------------------------------------------

const (
	serviceName = "runa.v1.EvalService"
	serviceFile = "runa/v1/eval.proto"
)

var (
	descriptorOnce sync.Once
	descriptorErr  error
)

// registerDescriptor builds runa/v1/eval.proto with one Struct-to-Struct
// method per name and adds it to protoregistry.GlobalFiles. Only the first
// call has an effect.
func registerDescriptor(methods []string) error {
	descriptorOnce.Do(func() {
		descriptorErr = buildDescriptor(methods)
	})
	return descriptorErr
}

func buildDescriptor(methods []string) error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(serviceFile); err == nil {
		return nil
	}

	structMD, err := desc.LoadMessageDescriptorForMessage((*structpb.Struct)(nil))
	if err != nil {
		return fmt.Errorf("load Struct descriptor: %w", err)
	}
	msgType := builder.RpcTypeImportedMessage(structMD, false)

	svc := builder.NewService("EvalService")
	for _, name := range methods {
		if err := svc.TryAddMethod(builder.NewMethod(name, msgType, msgType)); err != nil {
			return fmt.Errorf("add method %s: %w", name, err)
		}
	}
	file := builder.NewFile(serviceFile).SetPackageName("runa.v1").SetProto3(true)
	if err := file.TryAddService(svc); err != nil {
		return err
	}

	fd, err := file.Build()
	if err != nil {
		return fmt.Errorf("build %s: %w", serviceFile, err)
	}
	pfd, err := protodesc.NewFile(fd.AsFileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("convert %s: %w", serviceFile, err)
	}
	return protoregistry.GlobalFiles.RegisterFile(pfd)
}

// serviceDesc describes the handlers as a gRPC service.
func serviceDesc(handlers []namedHandler) *grpc.ServiceDesc {
	sd := &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Metadata:    serviceFile,
	}
	for _, h := range handlers {
		sd.Methods = append(sd.Methods, grpc.MethodDesc{
			MethodName: h.name,
			Handler:    grpcUnary(h.name, h.handler),
		})
	}
	return sd
}

type grpcMethodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func grpcUnary(method string, h structHandler) grpcMethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			out, err := h(ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, grpcError(err)
			}
			return out, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, call)
	}
}

// grpcError maps a Connect error to a gRPC status. The code values of the
// two protocols are identical.
func grpcError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return status.Error(codes.Code(cerr.Code()), cerr.Message())
	}
	return err
}
