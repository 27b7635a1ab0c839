package grpclabels

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LabelsServer is the server API for the Labels gRPC service.
//
// Requests and replies use protobuf well-known types; label payloads travel
// as JSON inside BytesValue, the same documents the HTTP API serves.
//
// Proto definition: labels.proto.
type LabelsServer interface {
	Emit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Query(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	Subscribe(*wrapperspb.Int64Value, Labels_SubscribeServer) error
}

// UnimplementedLabelsServer can be embedded to have forward compatible implementations.
type UnimplementedLabelsServer struct{}

func (UnimplementedLabelsServer) Emit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Emit not implemented")
}
func (UnimplementedLabelsServer) Query(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Query not implemented")
}
func (UnimplementedLabelsServer) Subscribe(*wrapperspb.Int64Value, Labels_SubscribeServer) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

func RegisterLabelsServer(s grpc.ServiceRegistrar, srv LabelsServer) {
	s.RegisterService(&Labels_ServiceDesc, srv)
}

type Labels_SubscribeServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type labelsSubscribeServer struct{ grpc.ServerStream }

func (x *labelsSubscribeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

// LabelsClient is the client API for the Labels gRPC service.
type LabelsClient interface {
	Emit(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Subscribe(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (Labels_SubscribeClient, error)
}

type labelsClient struct{ cc grpc.ClientConnInterface }

func NewLabelsClient(cc grpc.ClientConnInterface) LabelsClient { return &labelsClient{cc: cc} }

const (
	methodEmit      = "/xdao.labeler.v1.Labels/Emit"
	methodQuery     = "/xdao.labeler.v1.Labels/Query"
	methodSubscribe = "/xdao.labeler.v1.Labels/Subscribe"
)

func (c *labelsClient) Emit(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodEmit, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *labelsClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodQuery, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *labelsClient) Subscribe(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (Labels_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Labels_ServiceDesc.Streams[0], methodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &labelsSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Labels_SubscribeClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type labelsSubscribeClient struct{ grpc.ClientStream }

func (x *labelsSubscribeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Labels_Emit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LabelsServer).Emit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodEmit}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LabelsServer).Emit(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Labels_Query_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LabelsServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodQuery}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LabelsServer).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Labels_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.Int64Value)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LabelsServer).Subscribe(in, &labelsSubscribeServer{stream})
}

// Labels_ServiceDesc is the grpc.ServiceDesc for Labels service.
var Labels_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "xdao.labeler.v1.Labels",
	HandlerType: (*LabelsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Emit", Handler: _Labels_Emit_Handler},
		{MethodName: "Query", Handler: _Labels_Query_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _Labels_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "labels.proto",
}
