// Package producer ships telemetry events to Kafka and reads them back for the worker.
package producer

import "growth-tracker/backend/internal/telemetry"

// Producer emits telemetry events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
