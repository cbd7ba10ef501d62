// Package interceptors holds the gRPC server interceptors.
package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"growth-tracker/backend/internal/logger"
)

// LoggingUnary returns a unary server interceptor that logs one line per RPC.
// skipMethods is the set of full method names not to log (e.g. the health check polled by probes).
func LoggingUnary(skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("full_method", info.FullMethod),
			zap.String("status_code", code.String()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", ClientIP(ctx)),
		}
		log := logger.FromContext(ctx)
		switch code {
		case codes.OK:
			log.Debug("grpc request", fields...)
		case codes.Internal, codes.Unknown, codes.DataLoss:
			log.Error("grpc request", append(fields, zap.Error(err))...)
		default:
			log.Info("grpc request", fields...)
		}
		return resp, err
	}
}

// ClientIP returns the peer address of the RPC, or "" when unknown.
func ClientIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}
