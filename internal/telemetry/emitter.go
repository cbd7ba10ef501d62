package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits telemetry events (Kafka, OTel logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Fanout emits every event to each non-nil emitter and joins their errors.
type Fanout []EventEmitter

// Emit sends event to every emitter, even when an earlier one fails.
func (f Fanout) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards every event.
type Noop struct{}

// Emit does nothing.
func (Noop) Emit(context.Context, *Event) error { return nil }
