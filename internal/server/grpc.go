package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"OutcomeMarket/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer pairs a gRPC listener exposing health and reflection with the
// HTTP/JSON API mounted on a grpc-gateway mux.
type GRPCServer struct {
	grpcAddr, httpAddr string

	rpc    *grpc.Server
	health *health.Server
	deps   *ServerDeps
	logger zerolog.Logger
}

// NewGRPCServer builds both servers without listening. gRPC health starts
// NOT_SERVING.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		rpc:      grpc.NewServer(),
		health:   health.NewServer(),
		deps:     deps,
		logger:   observability.NewLogger("server"),
	}
	healthpb.RegisterHealthServer(s.rpc, s.health)
	reflection.Register(s.rpc)
	s.SetServing(false)
	return s
}

func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// StartGRPC serves until ctx is canceled, then stops gracefully.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		s.health.Shutdown()
		s.rpc.GracefulStop()
	})
	defer stop()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("grpc listening")
	err = s.rpc.Serve(lis)
	s.logger.Info().Msg("grpc stopped")
	return err
}

// StartHTTPGateway serves the JSON API plus /healthz, /readyz and the gRPC
// health status at /v1/grpc-health until ctx is canceled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	conn, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("gateway client: %w", err)
	}
	defer conn.Close()

	api, err := NewHTTPHandler(s.deps,
		runtime.WithHealthEndpointAt(healthpb.NewHealthClient(conn), "/v1/grpc-health"))
	if err != nil {
		return err
	}

	root := http.NewServeMux()
	if hc := s.deps.HealthChecker; hc != nil {
		root.HandleFunc("/healthz", hc.LivenessHandler)
		root.HandleFunc("/readyz", hc.ReadinessHandler)
	}
	root.Handle("/", api)

	srv := &http.Server{Addr: s.httpAddr, Handler: root, ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("http shutdown")
		}
	})
	defer stop()

	s.logger.Info().Str("addr", s.httpAddr).Msg("http listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("http stopped")
	return nil
}
