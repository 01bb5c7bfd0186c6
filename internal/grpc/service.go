package grpc

import (
	"context"

	grpclib "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "walk.v1.WalkService"

// WalkServiceServer is the server API for the walk service. Views and
// positions travel as google.protobuf.Struct documents.
type WalkServiceServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	End(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	TogglePanel(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ClosePanel(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetMapStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportPosition(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ReportPositionError(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetView(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchView(*emptypb.Empty, WalkService_WatchViewServer) error
}

// WalkService_WatchViewServer is the server side of the WatchView stream
type WalkService_WatchViewServer interface { //nolint:revive // mirrors generated naming
	Send(*structpb.Struct) error
	grpclib.ServerStream
}

type watchViewServer struct {
	grpclib.ServerStream
}

func (x *watchViewServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterWalkServiceServer registers srv on s
func RegisterWalkServiceServer(s grpclib.ServiceRegistrar, srv WalkServiceServer) {
	s.RegisterService(&WalkServiceDesc, srv)
}

// WalkServiceDesc describes walk.v1.WalkService
var WalkServiceDesc = grpclib.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WalkServiceServer)(nil),
	Methods: []grpclib.MethodDesc{
		{MethodName: "Start", Handler: unary("Start", WalkServiceServer.Start)},
		{MethodName: "End", Handler: unary("End", WalkServiceServer.End)},
		{MethodName: "TogglePanel", Handler: unary("TogglePanel", WalkServiceServer.TogglePanel)},
		{MethodName: "ClosePanel", Handler: unary("ClosePanel", WalkServiceServer.ClosePanel)},
		{MethodName: "SetMapStatus", Handler: unary("SetMapStatus", WalkServiceServer.SetMapStatus)},
		{MethodName: "ReportPosition", Handler: unary("ReportPosition", WalkServiceServer.ReportPosition)},
		{MethodName: "ReportPositionError", Handler: unary("ReportPositionError", WalkServiceServer.ReportPositionError)},
		{MethodName: "GetView", Handler: unary("GetView", WalkServiceServer.GetView)},
	},
	Streams: []grpclib.StreamDesc{
		{
			StreamName:    "WatchView",
			Handler:       watchViewHandler,
			ServerStreams: true,
		},
	},
	Metadata: "walk/v1/walk.proto",
}

// unary adapts a typed server method to a grpc method handler
func unary[Req any, Resp any](method string, call func(WalkServiceServer, context.Context, *Req) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpclib.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpclib.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(WalkServiceServer), ctx, in)
		}
		info := &grpclib.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(WalkServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchViewHandler(srv any, stream grpclib.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(WalkServiceServer).WatchView(m, &watchViewServer{stream})
}

// WalkServiceClient is the client API for walk.v1.WalkService
type WalkServiceClient struct {
	cc grpclib.ClientConnInterface
}

// NewWalkServiceClient creates a client on cc
func NewWalkServiceClient(cc grpclib.ClientConnInterface) *WalkServiceClient {
	return &WalkServiceClient{cc: cc}
}

func (c *WalkServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpclib.CallOption) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// Start begins a walk
func (c *WalkServiceClient) Start(ctx context.Context, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "Start", &emptypb.Empty{}, out, opts...)
}

// End finishes the walk
func (c *WalkServiceClient) End(ctx context.Context, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "End", &emptypb.Empty{}, out, opts...)
}

// TogglePanel flips the results panel
func (c *WalkServiceClient) TogglePanel(ctx context.Context, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "TogglePanel", &emptypb.Empty{}, out, opts...)
}

// ClosePanel hides the results panel
func (c *WalkServiceClient) ClosePanel(ctx context.Context, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "ClosePanel", &emptypb.Empty{}, out, opts...)
}

// SetMapStatus reports the map provider state
func (c *WalkServiceClient) SetMapStatus(ctx context.Context, in *structpb.Struct, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "SetMapStatus", in, out, opts...)
}

// ReportPosition delivers a position fix
func (c *WalkServiceClient) ReportPosition(ctx context.Context, in *structpb.Struct, opts ...grpclib.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	return out, c.invoke(ctx, "ReportPosition", in, out, opts...)
}

// ReportPositionError delivers a location acquisition error
func (c *WalkServiceClient) ReportPositionError(ctx context.Context, in *structpb.Struct, opts ...grpclib.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	return out, c.invoke(ctx, "ReportPositionError", in, out, opts...)
}

// GetView returns the current page
func (c *WalkServiceClient) GetView(ctx context.Context, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "GetView", &emptypb.Empty{}, out, opts...)
}

// WatchViewClient receives pages from a WatchView stream
type WatchViewClient struct {
	grpclib.ClientStream
}

// Recv blocks for the next page
func (x *WatchViewClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchView streams the current page and every later change
func (c *WalkServiceClient) WatchView(ctx context.Context, opts ...grpclib.CallOption) (*WatchViewClient, error) {
	stream, err := c.cc.NewStream(ctx, &WalkServiceDesc.Streams[0], "/"+ServiceName+"/WatchView", opts...)
	if err != nil {
		return nil, err
	}
	x := &WatchViewClient{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
