// Package rpc serves the pipeline over gRPC. Messages are protobuf well-known
// types, so the service needs no generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "lowlight.v1.PipelineService"

const (
	MethodDetect      = "/" + ServiceName + "/Detect"
	MethodProcess     = "/" + ServiceName + "/Process"
	MethodCheckEngine = "/" + ServiceName + "/CheckEngine"
)

// PipelineServiceServer is implemented by Server.
//
//	Detect:      encoded image -> {detections, counts}
//	Process:     encoded image -> JPEG composite (original | enhanced | detected)
//	CheckEngine: {} -> loaded model configuration
type PipelineServiceServer interface {
	Detect(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Process(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CheckEngine(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterPipelineServiceServer(s grpc.ServiceRegistrar, srv PipelineServiceServer) {
	s.RegisterService(&PipelineService_ServiceDesc, srv)
}

func detectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServiceServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDetect}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServiceServer).Detect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServiceServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodProcess}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServiceServer).Process(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func checkEngineHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServiceServer).CheckEngine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCheckEngine}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServiceServer).CheckEngine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var PipelineService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
		{MethodName: "Process", Handler: processHandler},
		{MethodName: "CheckEngine", Handler: checkEngineHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lowlight/v1/pipeline.proto",
}

// PipelineServiceClient calls the service over any grpc.ClientConnInterface.
type PipelineServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPipelineServiceClient(cc grpc.ClientConnInterface) *PipelineServiceClient {
	return &PipelineServiceClient{cc: cc}
}

func (c *PipelineServiceClient) Detect(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodDetect, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PipelineServiceClient) Process(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, MethodProcess, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PipelineServiceClient) CheckEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodCheckEngine, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
