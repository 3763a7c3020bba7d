package resolverpb

import (
	"context"

	"google.golang.org/grpc"
)

// ResolverServer is implemented by whatever serves media resolution;
// the remote resolver element's upstream counterpart.
type ResolverServer interface {
	ResolveMedia(ctx context.Context, req *ResolveRequest) (*ResolveReply, error)
}

const fullMethodResolveMedia = "/streamgraph.resolver.Resolver/ResolveMedia"

func resolveMediaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResolveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResolverServer).ResolveMedia(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodResolveMedia}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResolverServer).ResolveMedia(ctx, req.(*ResolveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ResolverServiceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// generated ServiceDesc: the Resolver service, one ResolveMedia method.
var ResolverServiceDesc = grpc.ServiceDesc{
	ServiceName: "streamgraph.resolver.Resolver",
	HandlerType: (*ResolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveMedia", Handler: resolveMediaHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "resolverpb/server.go",
}

// RegisterResolverServer attaches srv to s under the Resolver service name.
func RegisterResolverServer(s *grpc.Server, srv ResolverServer) {
	s.RegisterService(&ResolverServiceDesc, srv)
}
