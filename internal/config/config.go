// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// StorageDriver selects the snapshot store: memory, postgres or sqlite.
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	// DatabaseURL is the Postgres DSN; required when StorageDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SQLitePath is the database file used when StorageDriver is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	// SnowflakeNode is the node number (0-1023) used to mint snapshot IDs. Must be unique per writer process.
	SnowflakeNode int64 `mapstructure:"SNOWFLAKE_NODE"`

	// ProviderBaseURL is the metrics provider API base URL.
	ProviderBaseURL string `mapstructure:"PROVIDER_BASE_URL"`
	// ProviderAPIKey is the provisioned provider credential.
	ProviderAPIKey string `mapstructure:"PROVIDER_API_KEY"`
	// ProviderTimeout bounds a single provider call (e.g. "10s").
	ProviderTimeout string `mapstructure:"PROVIDER_TIMEOUT"`
	// MetricsCacheTTL is how long on-demand fetches are cached (e.g. "5m"); "0" disables the cache.
	MetricsCacheTTL string `mapstructure:"METRICS_CACHE_TTL"`

	// BatchWorkers is the number of usernames refreshed concurrently by a batch run.
	BatchWorkers int `mapstructure:"BATCH_WORKERS"`
	// BatchTransientRetries is how many times a transient provider failure is retried within a run.
	BatchTransientRetries int `mapstructure:"BATCH_TRANSIENT_RETRIES"`
	// BatchTimeout bounds one whole batch run (e.g. "30m").
	BatchTimeout string `mapstructure:"BATCH_TIMEOUT"`
	// GrowthWindowsDays is a comma-separated list of growth windows in days (e.g. "1,7,30").
	GrowthWindowsDays string `mapstructure:"GROWTH_WINDOWS_DAYS"`

	// TriggerSecret is the shared secret the scheduled trigger authenticates with.
	TriggerSecret string `mapstructure:"TRIGGER_SECRET"`
	// TriggerJWTIssuer is the iss claim accepted on HS256 trigger tokens.
	TriggerJWTIssuer string `mapstructure:"TRIGGER_JWT_ISSUER"`

	// Telemetry (optional). OTLPEndpoint empty means no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_DRIVER", StorageMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "growth.db")
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("PROVIDER_BASE_URL", "")
	v.SetDefault("PROVIDER_API_KEY", "")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("METRICS_CACHE_TTL", "5m")
	v.SetDefault("BATCH_WORKERS", 4)
	v.SetDefault("BATCH_TRANSIENT_RETRIES", 1)
	v.SetDefault("BATCH_TIMEOUT", "30m")
	v.SetDefault("GROWTH_WINDOWS_DAYS", "1,7,30")
	v.SetDefault("TRIGGER_SECRET", "")
	v.SetDefault("TRIGGER_JWT_ISSUER", "growth-scheduler")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "growth-tracker")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "growth-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "growth-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch cfg.StorageDriver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORAGE_DRIVER=postgres")
		}
	default:
		return nil, errors.New("config: STORAGE_DRIVER must be one of memory, postgres, sqlite")
	}

	if cfg.SnowflakeNode < 0 || cfg.SnowflakeNode > 1023 {
		return nil, errors.New("config: SNOWFLAKE_NODE must be between 0 and 1023")
	}

	if cfg.BatchWorkers == 0 {
		cfg.BatchWorkers = 4
	}
	if cfg.BatchWorkers < 1 || cfg.BatchWorkers > 64 {
		return nil, errors.New("config: BATCH_WORKERS must be between 1 and 64")
	}
	if cfg.BatchTransientRetries < 0 || cfg.BatchTransientRetries > 5 {
		return nil, errors.New("config: BATCH_TRANSIENT_RETRIES must be between 0 and 5")
	}

	if _, err := parseDays(cfg.GrowthWindowsDays); err != nil {
		return nil, err
	}

	if cfg.TriggerSecret == "" && cfg.Env == "production" {
		return nil, errors.New("config: TRIGGER_SECRET must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// ProviderCallTimeout parses ProviderTimeout. Returns 10s if unset or invalid.
func (c *Config) ProviderCallTimeout() time.Duration {
	return parseDuration(c.ProviderTimeout, 10*time.Second)
}

// CacheTTL parses MetricsCacheTTL. Returns 0 (cache disabled) for "0", and 5m if invalid.
func (c *Config) CacheTTL() time.Duration {
	if strings.TrimSpace(c.MetricsCacheTTL) == "0" {
		return 0
	}
	return parseDuration(c.MetricsCacheTTL, 5*time.Minute)
}

// BatchRunTimeout parses BatchTimeout. Returns 30m if unset or invalid.
func (c *Config) BatchRunTimeout() time.Duration {
	return parseDuration(c.BatchTimeout, 30*time.Minute)
}

// GrowthWindows returns the configured growth windows. Load has already validated the list;
// an unparsable value falls back to 1, 7 and 30 days.
func (c *Config) GrowthWindows() []time.Duration {
	days, err := parseDays(c.GrowthWindowsDays)
	if err != nil || len(days) == 0 {
		days = []int{1, 7, 30}
	}
	out := make([]time.Duration, len(days))
	for i, d := range days {
		out[i] = time.Duration(d) * 24 * time.Hour
	}
	return out
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseDays(raw string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, errors.New("config: GROWTH_WINDOWS_DAYS must be a comma-separated list of positive integers")
		}
		out = append(out, n)
	}
	return out, nil
}
