// Package api hosts the sunset HTTP API and a gRPC listener that exposes the
// standard health service, and shuts both down gracefully.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for the closure API.
const ServiceName = "sunset.AccountClosure"

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a Server serving handler on httpAddr and the health
// service on grpcAddr. An empty grpcAddr disables the gRPC listener.
func NewServer(httpAddr, grpcAddr string, handler http.Handler, log *slog.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		log:      log.With("component", "api"),
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpcServer: gs,
		health:     hs,
	}
}

// ListenAndServe opens the listeners and serves until ctx is canceled or a
// listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var grpcLn net.Listener
	if s.grpcAddr != "" {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on the given listeners until ctx is canceled, then shuts
// down gracefully. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	errCh := make(chan error, 2)

	go func() {
		s.log.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if grpcLn != nil {
		go func() {
			s.log.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	s.SetServing(true)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := s.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// SetServing flips the reported health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown marks the service not serving, drains HTTP requests and stops
// the gRPC server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	return err
}
