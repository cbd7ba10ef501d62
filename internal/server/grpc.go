package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"growth-tracker/backend/internal/server/interceptors"
)

// healthCheckMethod is polled by orchestrator probes and kept out of the request log.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// NewGRPCServer returns a gRPC server with the standard health service registered.
// The returned health.Server starts NOT_SERVING until a health.Checker watch updates it.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(map[string]bool{healthCheckMethod: true})),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	RegisterServices(s, hs)
	return s, hs
}

// RegisterServices registers every gRPC service with s.
//
//   - grpc.health.v1.Health → google.golang.org/grpc/health
//   - grpc.reflection       → google.golang.org/grpc/reflection (for grpcurl during operations)
func RegisterServices(s reflection.GRPCServer, hs healthpb.HealthServer) {
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
}
