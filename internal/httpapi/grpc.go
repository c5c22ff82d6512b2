package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"openway.dev/internal/obs"
)

// GRPCServiceName is the service name answered by the health check besides "".
const GRPCServiceName = "openway.access"

// HealthServer answers grpc.health.v1 checks from the store ping.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	ready Pinger
}

func NewHealthServer(ready Pinger) *HealthServer {
	return &HealthServer{ready: ready}
}

func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", GRPCServiceName:
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	if s.ready != nil {
		if err := s.ready.Ping(ctx); err != nil {
			obs.Error("grpc health check failed", err, nil)
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer builds a gRPC server with the health service registered.
func NewGRPCServer(ready Pinger, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(ready))
	return srv
}
