// server runs the HTTP API (on-demand refresh, history, scheduled trigger) and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"growth-tracker/backend/internal/app"
	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/health"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/metrics"
	"growth-tracker/backend/internal/security"
	"growth-tracker/backend/internal/server"
	"growth-tracker/backend/internal/telemetry"
	"growth-tracker/backend/internal/tracking/handler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("shutdown: close", zap.Error(err))
		}
	}()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpMetrics, err := metrics.NewHTTPMetrics(metrics.Config{ServiceName: cfg.ServiceName, Environment: cfg.Env}, a.Providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("http metrics: %w", err)
	}
	checker := health.NewChecker(a.Store.Pinger())
	router := server.NewRouter(server.RouterDeps{
		Handler:     handler.New(a.Service, a.Orchestrator),
		TriggerAuth: security.NewTriggerAuth(cfg.TriggerSecret, cfg.TriggerJWTIssuer, 0),
		HTTPMetrics: httpMetrics,
		Checker:     checker,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("storage", a.Store.Driver))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var stopGRPC func()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv, hs := server.NewGRPCServer()
		go checker.Watch(ctx, hs, 10*time.Second)
		go func() {
			log.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
		stopGRPC = func() {
			hs.Shutdown()
			grpcSrv.GracefulStop()
		}
	}

	// Evict expired cache entries so idle usernames do not pin memory.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.MetricsCache.Sweep()
			}
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if stopGRPC != nil {
		stopGRPC()
	}
	// Let in-flight async emits finish before the emitters close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info("servers stopped")
	return serveErr
}
