package server

import (
	"context"
	"net/http"

	"github.com/syntrixbase/fanout/internal/server/ratelimit"
	"google.golang.org/grpc"
)

// Service is the unified interface for the network layer.
type Service interface {
	// Start binds the HTTP and gRPC listeners and serves until a fatal
	// error occurs or the context is canceled.
	Start(ctx context.Context) error

	// Stop marks every health status NOT_SERVING and shuts both servers
	// down, waiting for in-flight requests or for the context to expire.
	Stop(ctx context.Context) error

	// RegisterHTTPHandler registers a handler for a specific pattern.
	// This must be called BEFORE Start().
	RegisterHTTPHandler(pattern string, handler http.Handler)

	// RegisterGRPCService registers a gRPC service implementation.
	// This must be called BEFORE Start().
	RegisterGRPCService(desc *grpc.ServiceDesc, impl any)

	// HTTPMux returns the underlying HTTP ServeMux for direct route registration.
	// This must be called BEFORE Start().
	HTTPMux() *http.ServeMux

	// SetServingStatus reports a named component through the gRPC health
	// service. The empty name is the overall server status.
	SetServingStatus(service string, serving bool)

	// IngestRateLimiter returns the limiter for write endpoints, or nil
	// when it is disabled.
	IngestRateLimiter() ratelimit.Limiter
}
