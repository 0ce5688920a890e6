// Package admin runs the operator-facing gRPC endpoint: the standard health
// service, with one entry per dependency, plus server reflection.
package admin

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/observability"
)

// Health service names reported by the admin server. The empty name is the
// overall process status.
const (
	ServiceOverall     = ""
	ServiceSync        = "huntsync.Sync"
	ServicePersistence = "huntsync.Persistence"
)

// Server wraps a gRPC server exposing health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewServer builds the admin server. metrics may be nil.
func NewServer(log logging.Logger, metrics *observability.SyncCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("component", "admin"))

	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			metrics.UnaryServerInterceptor(),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	for _, svc := range []string{ServiceOverall, ServiceSync, ServicePersistence} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
	return &Server{grpc: gs, health: hs, log: log}
}

// SetServing flips the health status of one service.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(service, status)
	s.log.Info(context.Background(), "health status changed",
		logging.String("service", service),
		logging.String("status", status.String()),
	)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
