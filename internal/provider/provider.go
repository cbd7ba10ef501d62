// Package provider is the gateway to the external metrics source.
package provider

import (
	"context"

	"growth-tracker/backend/internal/snapshot/domain"
)

// Fetcher returns the current counters of one account.
// Failures are *failure.Error values of kind NotFound, RateLimited, Transient or InvalidInput.
// Implementations never retry; callers own the retry policy.
type Fetcher interface {
	FetchCurrentMetrics(ctx context.Context, username string) (*domain.Metrics, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, username string) (*domain.Metrics, error)

// FetchCurrentMetrics calls f.
func (f FetcherFunc) FetchCurrentMetrics(ctx context.Context, username string) (*domain.Metrics, error) {
	return f(ctx, username)
}
