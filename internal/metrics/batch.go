package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BatchMetrics counts batch refresh runs and their per-account outcomes.
type BatchMetrics struct {
	runs        *prometheus.CounterVec
	accounts    *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastSuccess prometheus.Gauge
}

var (
	batchMetricsOnce sync.Once
	batchMetrics     *BatchMetrics
)

// Batch returns the process-wide batch collectors registered on the default registerer.
func Batch() *BatchMetrics {
	return BatchWithConfig(Config{})
}

// BatchWithConfig is Batch with constant labels. Only the first call's cfg takes effect.
func BatchWithConfig(cfg Config) *BatchMetrics {
	batchMetricsOnce.Do(func() {
		batchMetrics = NewBatchMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return batchMetrics
}

// NewBatchMetrics registers a fresh set of batch collectors on registerer.
func NewBatchMetrics(registerer prometheus.Registerer, cfg Config) *BatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "growth-tracker"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "growth_batch_runs_total",
			Help:        "Batch refresh runs by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"}, // completed | provider_unavailable | list_failed | canceled
	)

	accounts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "growth_batch_accounts_total",
			Help:        "Accounts processed by batch refresh runs, by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // success or a failure kind
	)

	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "growth_batch_run_duration_seconds",
			Help: "Wall time of a batch refresh run.",
			Buckets: []float64{
				1,
				10,
				60,   // 1m
				300,  // 5m
				900,  // 15m
				1800, // 30m
				3600, // 1h
			},
			ConstLabels: constLabels,
		},
	)

	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "growth_batch_last_completed_timestamp_seconds",
			Help:        "Unix time of the last batch run that completed.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(runs, accounts, runDuration, lastSuccess)

	return &BatchMetrics{
		runs:        runs,
		accounts:    accounts,
		runDuration: runDuration,
		lastSuccess: lastSuccess,
	}
}

// ObserveRun records one finished run.
func (m *BatchMetrics) ObserveRun(outcome string, started, finished time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	d := finished.Sub(started).Seconds()
	if d < 0 {
		d = 0
	}
	m.runDuration.Observe(d)
	if outcome == "completed" {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}

// AddAccounts adds n accounts with the given result.
func (m *BatchMetrics) AddAccounts(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.accounts.WithLabelValues(result).Add(float64(n))
}
