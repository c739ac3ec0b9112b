package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/syntrixbase/fanout/internal/server/ratelimit"
)

type serverImpl struct {
	cfg    Config
	logger *slog.Logger

	httpMux    *http.ServeMux
	httpServer *http.Server
	httpLis    net.Listener

	rateLimiter   ratelimit.Limiter
	ingestLimiter ratelimit.Limiter

	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server

	mu      sync.Mutex
	started bool
}

// New builds the HTTP mux and the gRPC server. /metrics and the standard
// gRPC health service are registered up front; the overall health status
// stays NOT_SERVING until Start binds the listeners.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &serverImpl{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		httpMux: http.NewServeMux(),
		health:  health.NewServer(),
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimit)
	}
	if cfg.IngestRateLimit.Enabled {
		s.ingestLimiter = ratelimit.NewMemoryLimiter(cfg.IngestRateLimit)
	}

	s.grpcServer = grpc.NewServer(s.grpcOptions()...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if cfg.EnableReflection {
		reflection.Register(s.grpcServer)
	}

	s.httpMux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Start serves until ctx ends or either server fails. Returning on ctx
// does not stop the servers; that is Stop's job.
func (s *serverImpl) Start(ctx context.Context) error {
	if err := s.bind(); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	for _, serve := range []func() error{s.serveHTTP, s.serveGRPC} {
		go func() {
			if err := serve(); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// bind claims both ports before anything is served so a port conflict
// fails Start instead of surfacing later from a goroutine.
func (s *serverImpl) bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}
	s.started = true

	httpLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("http listen error: %w", err)
	}
	grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.GRPCPort))
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("grpc listen error: %w", err)
	}
	s.httpLis, s.grpcLis = httpLis, grpcLis
	s.initHTTPServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Stop flips every health status to NOT_SERVING, then drains both servers
// in parallel. gRPC falls back to a hard stop when ctx expires first.
func (s *serverImpl) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Shutdown()

	var g errgroup.Group
	if s.httpServer != nil {
		g.Go(func() error {
			s.logger.Info("Stopping HTTP server")
			if err := s.httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("http shutdown error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		s.logger.Info("Stopping gRPC server")
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("gRPC drain timed out, forcing stop")
			s.grpcServer.Stop()
		}
		return nil
	})
	err := g.Wait()

	for _, l := range []ratelimit.Limiter{s.rateLimiter, s.ingestLimiter} {
		if stoppable, ok := l.(ratelimit.Stoppable); ok {
			stoppable.Stop()
		}
	}
	return err
}

func (s *serverImpl) RegisterHTTPHandler(pattern string, handler http.Handler) {
	s.httpMux.Handle(pattern, handler)
}

func (s *serverImpl) RegisterGRPCService(desc *grpc.ServiceDesc, impl any) {
	s.grpcServer.RegisterService(desc, impl)
}

func (s *serverImpl) HTTPMux() *http.ServeMux {
	return s.httpMux
}

func (s *serverImpl) SetServingStatus(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

func (s *serverImpl) IngestRateLimiter() ratelimit.Limiter {
	return s.ingestLimiter
}
