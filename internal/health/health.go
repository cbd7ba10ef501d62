// Package health reports readiness to HTTP probes and the gRPC health service.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker verifies that the snapshot store is reachable. A nil Pinger (memory store) is always ready.
type Checker struct {
	pinger  Pinger
	timeout time.Duration
}

// NewChecker returns a Checker for pinger.
func NewChecker(pinger Pinger) *Checker {
	return &Checker{pinger: pinger, timeout: defaultTimeout}
}

// Check returns the store ping error, if any.
func (c *Checker) Check(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.pinger.PingContext(ctx)
}

// Status maps Check to a gRPC serving status.
func (c *Checker) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if err := c.Check(ctx); err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Watch updates hs for the overall service ("") every interval until ctx ends.
func (c *Checker) Watch(ctx context.Context, hs *health.Server, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	last := c.Status(ctx)
	hs.SetServingStatus("", last)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := c.Status(ctx)
		if st != last {
			zap.L().Warn("health: serving status changed", zap.String("status", st.String()))
			last = st
		}
		hs.SetServingStatus("", st)
	}
}
