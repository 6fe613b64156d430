package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "regjournal.v1.JournalAdmin"

// AdminServer is the server side of the admin service. Messages are protobuf
// well-known types so no generated code is needed.
type AdminServer interface {
	ListStacks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DescribeStack(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetLocked(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RollbackStack(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RegisterDataSet(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListStacks", AdminServer.ListStacks),
		unary("DescribeStack", AdminServer.DescribeStack),
		unary("SetLocked", AdminServer.SetLocked),
		unary("RollbackStack", AdminServer.RollbackStack),
		unary("RegisterDataSet", AdminServer.RegisterDataSet),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "regjournal/v1/admin.proto",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
