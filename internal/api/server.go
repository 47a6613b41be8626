// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/retrovue/retrovue/internal/evidence"
	"github.com/retrovue/retrovue/internal/logging"
)

// HTTPServer is the supervised status API server.
type HTTPServer struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
}

// NewHTTPServer creates the HTTP server service.
func NewHTTPServer(addr string, handler http.Handler, shutdownTimeout time.Duration) *HTTPServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &HTTPServer{addr: addr, handler: handler, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *HTTPServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *HTTPServer) String() string { return "http-server" }

// GRPCServer is the supervised execution-evidence gRPC server.
type GRPCServer struct {
	addr string
	svc  evidence.ExecutionEvidenceServer
}

// NewGRPCServer creates the gRPC server service.
func NewGRPCServer(addr string, svc evidence.ExecutionEvidenceServer) *GRPCServer {
	return &GRPCServer{addr: addr, svc: svc}
}

// Serve implements suture.Service.
func (s *GRPCServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	evidence.Register(srv, s.svc)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("evidence grpc server listening")
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *GRPCServer) String() string { return "evidence-grpc-server" }
