package provider

import (
	"context"
	"time"

	"growth-tracker/backend/internal/cache"
	"growth-tracker/backend/internal/snapshot/domain"
)

// CachingFetcher serves recent successful fetches from a process-local cache.
// Failures are never cached. The cache is not shared across processes and does not survive restarts.
type CachingFetcher struct {
	next  Fetcher
	cache cache.Cache[string, domain.Metrics]
	ttl   time.Duration
}

var _ Fetcher = (*CachingFetcher)(nil)

// NewCachingFetcher decorates next with c. ttl <= 0 disables caching.
func NewCachingFetcher(next Fetcher, c cache.Cache[string, domain.Metrics], ttl time.Duration) *CachingFetcher {
	if c == nil || ttl <= 0 {
		c = cache.NoopCache[string, domain.Metrics]{}
	}
	return &CachingFetcher{next: next, cache: c, ttl: ttl}
}

// FetchCurrentMetrics returns the cached metrics for username or fetches and caches them.
func (f *CachingFetcher) FetchCurrentMetrics(ctx context.Context, raw string) (*domain.Metrics, error) {
	m, _, err := f.FetchMetrics(ctx, raw)
	return m, err
}

// FetchMetrics is FetchCurrentMetrics that also reports whether the result came from the cache.
// A cached result is not a new reading and must not be stored as one.
func (f *CachingFetcher) FetchMetrics(ctx context.Context, raw string) (*domain.Metrics, bool, error) {
	key := domain.NormalizeUsername(raw)
	if m, ok := f.cache.Get(key); ok {
		return &m, true, nil
	}
	m, err := f.next.FetchCurrentMetrics(ctx, raw)
	if err != nil {
		return nil, false, err
	}
	f.cache.Set(key, *m, f.ttl)
	return m, false, nil
}

// Invalidate drops the cached entry for username.
func (f *CachingFetcher) Invalidate(raw string) {
	f.cache.Delete(domain.NormalizeUsername(raw))
}
