// Package metrics holds the Prometheus collectors of the batch orchestrator and the OTel HTTP server metrics.
package metrics

// Config sets the constant labels attached to every collector.
type Config struct {
	ServiceName string
	Environment string
}
