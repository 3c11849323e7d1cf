package statusserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service is declared by hand over well-known message types, so there is
// no generated package to vendor.
const (
	ServiceName           = "sigdispatch.v1.Status"
	GetStatusMethod       = "/sigdispatch.v1.Status/GetStatus"
	WatchDeliveriesMethod = "/sigdispatch.v1.Status/WatchDeliveries"
)

// StatusServer is the server API for the sigdispatch.v1.Status service.
type StatusServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchDeliveries(*emptypb.Empty, WatchDeliveriesServer) error
}

// WatchDeliveriesServer is the server side of the WatchDeliveries stream.
type WatchDeliveriesServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchDeliveriesServer struct {
	grpc.ServerStream
}

func (x *watchDeliveriesServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func getStatusHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetStatusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchDeliveriesHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StatusServer).WatchDeliveries(m, &watchDeliveriesServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc for the sigdispatch.v1.Status service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler:    getStatusHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchDeliveries",
			Handler:       watchDeliveriesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sigdispatch/v1/status.proto",
}

// RegisterStatusServer registers srv with s.
func RegisterStatusServer(s grpc.ServiceRegistrar, srv StatusServer) {
	s.RegisterService(&ServiceDesc, srv)
}
