package grpc

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Dial opens a traced client connection to a collaborator service and probes
// its health endpoint. An unhealthy collaborator is logged, not fatal: the
// connection reconnects in the background.
func Dial(addr string, logger zerolog.Logger) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	switch {
	case err != nil:
		logger.Warn().Err(err).Str("addr", addr).Msg("collaborator health probe failed")
	case resp.GetStatus() != healthpb.HealthCheckResponse_SERVING:
		logger.Warn().Str("addr", addr).Str("status", resp.GetStatus().String()).Msg("collaborator not serving")
	}
	return conn, nil
}
