package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"LowLightDet/engine"
	iface "LowLightDet/interface"
	"LowLightDet/logger"
	"LowLightDet/monitor"
	"LowLightDet/stream"
	"LowLightDet/worker"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ConfigSource reports the loaded model configuration.
type ConfigSource interface {
	CheckConfig() iface.EngineConfig
}

type Server struct {
	proc   *stream.Processor
	pool   *worker.Pool
	engine ConfigSource
	mon    *monitor.Monitor
	log    *zap.Logger
}

// NewServer wires the shared Processor and pool. mon may be nil.
func NewServer(proc *stream.Processor, pool *worker.Pool, engine ConfigSource, mon *monitor.Monitor, log *zap.Logger) *Server {
	if log == nil {
		log = logger.Log()
	}
	return &Server{proc: proc, pool: pool, engine: engine, mon: mon, log: log.Named("grpc")}
}

type detectPayload struct {
	Detections []iface.Detection `json:"detections"`
	Counts     map[string]int    `json:"counts"`
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) run(ctx context.Context, data []byte) (*stream.Result, error) {
	img, err := stream.DecodeImage(data)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	defer img.Close()
	var res *stream.Result
	err = s.pool.Do(ctx, func() error {
		var perr error
		res, perr = s.proc.Process(img)
		return perr
	})
	switch {
	case err == nil:
	case errors.Is(err, iface.ErrInvalidInput):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
	if s.mon != nil {
		s.mon.FrameProcessed(res.Inference, len(res.Detections))
	}
	return res, nil
}

func (s *Server) Detect(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	res, err := s.run(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	defer res.Close()
	dets := res.Detections
	if dets == nil {
		dets = []iface.Detection{}
	}
	out, err := toStruct(detectPayload{Detections: dets, Counts: engine.Counts(dets)})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) Process(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	res, err := s.run(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	defer res.Close()
	jpg, err := stream.EncodeJPEG(res.Composite)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(jpg), nil
}

func (s *Server) CheckEngine(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cfg := s.engine.CheckConfig()
	out, err := toStruct(map[string]any{
		"modelPath": cfg.ModelPath,
		"names":     cfg.Names,
		"conf":      cfg.Conf,
		"iou":       cfg.Iou,
		"inputSize": cfg.InputSize,
		"useGPU":    cfg.UseGPU,
		"threshold": s.proc.Threshold,
		"stages":    s.proc.Pipeline.Stages(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// unaryObserver counts and logs every call.
func (s *Server) unaryObserver(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.mon != nil {
		s.mon.GRPCRequest(info.FullMethod)
	}
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
	} else {
		s.log.Debug("rpc", zap.String("method", info.FullMethod))
	}
	return resp, err
}

// NewGRPCServer returns a grpc.Server with the pipeline service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.unaryObserver))
	gs := grpc.NewServer(opts...)
	RegisterPipelineServiceServer(gs, s)
	return gs
}

// Serve blocks until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	gs := s.NewGRPCServer()
	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(ln) }()
	s.log.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	}
}

func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
