package server

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeStream struct {
	grpc.ServerStream
}

func (fakeStream) Context() context.Context {
	return context.Background()
}

func TestUnaryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	srv := newTestServer(t, Config{}, jsonLogger(&buf))
	info := &grpc.UnaryServerInfo{FullMethod: "/fanout.Test/Call"}

	resp, err := srv.unaryInterceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return "resp", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resp", resp)

	_, err = srv.unaryInterceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "Panic in gRPC handler")

	for _, code := range []codes.Code{codes.InvalidArgument, codes.Canceled, codes.Unavailable} {
		_, err := srv.unaryInterceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(code, "failed")
		})
		assert.Equal(t, code, status.Code(err))
	}
}

func TestStreamInterceptor(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)
	info := &grpc.StreamServerInfo{FullMethod: "/fanout.Test/Stream"}

	err := srv.streamInterceptor(nil, fakeStream{}, info, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	assert.NoError(t, srv.streamInterceptor(nil, fakeStream{}, info, func(any, grpc.ServerStream) error {
		return nil
	}))
	err = srv.streamInterceptor(nil, fakeStream{}, info, func(any, grpc.ServerStream) error {
		return status.Error(codes.InvalidArgument, "bad")
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCLogLevel(t *testing.T) {
	live := context.Background()
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, "INFO", grpcLogLevel(live, codes.OK).String())
	assert.Equal(t, "INFO", grpcLogLevel(live, codes.NotFound).String())
	assert.Equal(t, "WARN", grpcLogLevel(live, codes.Canceled).String())
	assert.Equal(t, "ERROR", grpcLogLevel(live, codes.Internal).String())
	assert.Equal(t, "WARN", grpcLogLevel(gone, codes.Internal).String())
}

func TestRegisterGRPCService(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)

	desc := &grpc.ServiceDesc{
		ServiceName: "fanout.Test",
		HandlerType: (*any)(nil),
		Metadata:    "fanout_test.proto",
	}
	assert.NotPanics(t, func() { srv.RegisterGRPCService(desc, nil) })

	info := srv.grpcServer.GetServiceInfo()
	assert.Contains(t, info, "fanout.Test")
	assert.Contains(t, info, "grpc.health.v1.Health")
}
