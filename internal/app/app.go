// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"growth-tracker/backend/internal/cache"
	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/metrics"
	"growth-tracker/backend/internal/provider"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/storage"
	"growth-tracker/backend/internal/telemetry"
	otelsetup "growth-tracker/backend/internal/telemetry/otel"
	"growth-tracker/backend/internal/telemetry/producer"
	"growth-tracker/backend/internal/tracking/batch"
	"growth-tracker/backend/internal/tracking/service"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config       *config.Config
	Store        *storage.Store
	Providers    *otelsetup.Providers
	Emitter      telemetry.EventEmitter
	Service      *service.Service
	Orchestrator *batch.Orchestrator
	// MetricsCache backs the on-demand fetch path; the batch path always calls the provider.
	MetricsCache *cache.TTLCache[string, domain.Metrics]

	producer *producer.KafkaProducer
}

// New opens storage, telemetry and the provider client described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("app: otel providers: %w", err)
	}
	providers.SetGlobal()

	store, err := storage.Open(cfg)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, err
	}

	a := &App{Config: cfg, Store: store, Providers: providers}
	emitters := telemetry.Fanout{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if p := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); p != nil {
		a.producer = p
		emitters = append(emitters, p)
		zap.L().Info("telemetry: kafka producer enabled", zap.String("topic", p.Topic()))
	}
	a.Emitter = emitters

	httpClient := provider.NewHTTPClient(cfg.ProviderAPIKey, cfg.ProviderBaseURL, cfg.ProviderCallTimeout())
	if cfg.ProviderBaseURL == "" {
		zap.L().Warn("provider: PROVIDER_BASE_URL is not set; every fetch will fail as transient")
	}
	a.MetricsCache = cache.NewTTLCache[string, domain.Metrics]()
	cached := provider.NewCachingFetcher(httpClient, a.MetricsCache, cfg.CacheTTL())

	windows := cfg.GrowthWindows()
	a.Service = service.NewService(store.Repository, cached, windows, a.Emitter)
	a.Orchestrator = batch.NewOrchestrator(store.Repository, httpClient, batch.Config{
		Workers:          cfg.BatchWorkers,
		TransientRetries: cfg.BatchTransientRetries,
		ProviderTimeout:  cfg.ProviderCallTimeout(),
		RunTimeout:       cfg.BatchRunTimeout(),
	}, a.Emitter).WithMetrics(metrics.BatchWithConfig(metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	}))
	return a, nil
}

// Close flushes telemetry and closes storage. Callers that emitted asynchronously should wait
// telemetry.ShutdownDrainDuration first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.Providers != nil {
		errs = append(errs, a.Providers.Shutdown(ctx))
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
