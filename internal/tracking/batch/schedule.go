package batch

import (
	"context"
	"time"
)

// RunForever runs immediately and then every interval until ctx ends, handing each outcome to report.
// Runs never overlap: the next tick is measured from the end of the previous run.
func (o *Orchestrator) RunForever(ctx context.Context, interval time.Duration, report func(*Result, error)) error {
	if interval <= 0 {
		res, err := o.Run(ctx)
		report(res, err)
		return err
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		res, err := o.Run(ctx)
		report(res, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer.Reset(interval)
	}
}
