package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// grpcHealth serves grpc.health.v1 for orchestrators that probe over gRPC.
// The overall status follows the live feed.
type grpcHealth struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func newGRPCHealth(tlsConfig *tls.Config, logger *slog.Logger) *grpcHealth {
	grpc_prometheus.EnableHandlingTimeHistogram()

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	server := grpc.NewServer(opts...)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	reflection.Register(server)
	grpc_prometheus.Register(server)

	return &grpcHealth{server: server, health: hs, logger: logger}
}

func (g *grpcHealth) setServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Run serves on ln and re-checks running every interval until ctx is
// canceled, then reports NOT_SERVING and stops gracefully.
func (g *grpcHealth) Run(ctx context.Context, ln net.Listener, running func() bool, interval time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		g.logger.Info("grpc health server listening", "address", ln.Addr().String())
		serveErr <- g.server.Serve(ln)
	}()

	g.setServing(running())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.health.Shutdown()
			g.logger.Info("shutting down grpc server")
			g.server.GracefulStop()
			return nil
		case err := <-serveErr:
			return err
		case <-ticker.C:
			g.setServing(running())
		}
	}
}
