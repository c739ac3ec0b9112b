package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/syntrixbase/fanout/internal/metrics"
)

func (s *serverImpl) grpcOptions() []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}
	if s.cfg.GRPCMaxConcurrent > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(s.cfg.GRPCMaxConcurrent)))
	}
	return opts
}

// serveGRPC returns nil once Stop or GracefulStop has been called.
func (s *serverImpl) serveGRPC() error {
	s.logger.Info("Starting gRPC server", "addr", s.grpcLis.Addr().String())
	if err := s.grpcServer.Serve(s.grpcLis); err != nil {
		return fmt.Errorf("grpc server error: %w", err)
	}
	return nil
}

// unaryInterceptor recovers panics into codes.Internal, then logs the call.
func (s *serverImpl) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	func() {
		defer s.recoverCall(info.FullMethod, &err)
		resp, err = handler(ctx, req)
	}()
	s.logCall(ctx, "gRPC Request", info.FullMethod, start, err)
	return resp, err
}

func (s *serverImpl) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	start := time.Now()
	func() {
		defer s.recoverCall(info.FullMethod, &err)
		err = handler(srv, ss)
	}()
	s.logCall(ss.Context(), "gRPC Stream", info.FullMethod, start, err)
	return err
}

func (s *serverImpl) recoverCall(method string, err *error) {
	if v := recover(); v != nil {
		s.logger.Error("Panic in gRPC handler",
			"method", method,
			"panic", v,
			"stack", string(debug.Stack()),
		)
		*err = status.Error(codes.Internal, "Internal server error")
	}
}

func (s *serverImpl) logCall(ctx context.Context, msg, method string, start time.Time, err error) {
	code := status.Code(err)
	metrics.GRPCRequests.WithLabelValues(method, code.String()).Inc()
	s.logger.Log(ctx, grpcLogLevel(ctx, code), msg,
		"method", method,
		"code", code.String(),
		"duration", time.Since(start),
		"error", err,
	)
}

// grpcLogLevel reserves Error for server side failures; caller mistakes and
// cancellations are expected traffic.
func grpcLogLevel(ctx context.Context, code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.NotFound, codes.AlreadyExists, codes.InvalidArgument,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return slog.LevelInfo
	case codes.Canceled, codes.DeadlineExceeded:
		return slog.LevelWarn
	}
	if ctx.Err() != nil {
		return slog.LevelWarn
	}
	return slog.LevelError
}
