// Package service implements the on-demand refresh and the history and growth queries.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/growth"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/provider"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/snapshot/repository"
	"growth-tracker/backend/internal/telemetry"
)

const day = 24 * time.Hour

// MaxHistoryDays bounds the history window so that days*24h fits in a time.Duration.
const MaxHistoryDays = 36500

// cacheAwareFetcher is implemented by fetchers that can serve a recent reading from a cache.
type cacheAwareFetcher interface {
	FetchMetrics(ctx context.Context, username string) (*domain.Metrics, bool, error)
	Invalidate(username string)
}

// HistoryPoint is one chart-ready reading. Formatting RecordedAt is left to the presentation layer.
type HistoryPoint struct {
	RecordedAt     time.Time
	FollowerCount  int64
	FollowingCount int64
	MediaCount     int64
}

// RefreshResult is the outcome of an on-demand refresh.
type RefreshResult struct {
	Username string
	Metrics  domain.Metrics
	// Snapshot is the stored record; nil when the append failed.
	Snapshot  *domain.Snapshot
	Persisted bool
	// Cached is true when the provider was not called and Snapshot is the latest stored reading.
	Cached bool
	// StorageError describes a store failure that did not fail the request.
	StorageError string
	// IsNewUser is true when the stored snapshot is the username's first; Growth is nil then.
	IsNewUser bool
	Growth    *growth.Stats
}

// GrowthResult is the outcome of a read-only growth query.
type GrowthResult struct {
	Username      string
	SnapshotCount int
	IsNewUser     bool
	// Growth is nil when the username has no snapshots or only one.
	Growth *growth.Stats
}

// Service serves the on-demand paths. It is safe for concurrent use.
type Service struct {
	repo    repository.Repository
	fetcher provider.Fetcher
	windows []time.Duration
	emitter telemetry.EventEmitter
	nowF    func() time.Time
}

// NewService returns a Service. windows empty uses growth.DefaultWindows; emitter may be nil.
func NewService(repo repository.Repository, fetcher provider.Fetcher, windows []time.Duration, emitter telemetry.EventEmitter) *Service {
	if len(windows) == 0 {
		windows = growth.DefaultWindows
	}
	return &Service{
		repo:    repo,
		fetcher: fetcher,
		windows: windows,
		emitter: emitter,
		nowF:    time.Now,
	}
}

// WithClock replaces the clock used as "now" for growth windows. Intended for tests.
func (s *Service) WithClock(nowF func() time.Time) *Service {
	s.nowF = nowF
	return s
}

// Refresh fetches the username's current metrics, stores a snapshot and computes growth.
// Provider failures are returned unchanged. A store failure degrades the result instead of failing it.
// When the fetcher serves the reading from its cache nothing is appended: the latest stored snapshot
// is returned instead, since the cached reading is not a new point in time.
func (s *Service) Refresh(ctx context.Context, raw string) (*RefreshResult, error) {
	username, err := validUsername("refresh", raw)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With(zap.String("username", username))

	m, cached, err := s.fetch(ctx, username)
	if err != nil {
		return nil, err
	}
	if cached {
		history, herr := s.repo.History(ctx, username, 0)
		if herr == nil && len(history) > 0 {
			return s.fromHistory(username, history, true), nil
		}
		// Nothing stored to stand in for the cached reading; take a fresh one.
		s.fetcher.(cacheAwareFetcher).Invalidate(username)
		if m, _, err = s.fetch(ctx, username); err != nil {
			return nil, err
		}
	}

	res := &RefreshResult{Username: username, Metrics: *m}
	snap, err := s.repo.Append(ctx, username, *m)
	if err != nil {
		log.Warn("refresh: snapshot not persisted", zap.Error(err))
		res.StorageError = err.Error()
		return res, nil
	}
	s.emitRecorded(ctx, snap)

	history, err := s.repo.History(ctx, username, 0)
	if err != nil {
		log.Warn("refresh: history unavailable", zap.Error(err))
		res.Snapshot = snap
		res.Persisted = true
		res.StorageError = err.Error()
		return res, nil
	}
	if len(history) == 0 {
		history = []*domain.Snapshot{snap}
	}
	res = s.fromHistory(username, history, false)
	res.Snapshot = snap
	res.Metrics = *m
	return res, nil
}

func (s *Service) fetch(ctx context.Context, username string) (*domain.Metrics, bool, error) {
	if cf, ok := s.fetcher.(cacheAwareFetcher); ok {
		return cf.FetchMetrics(ctx, username)
	}
	m, err := s.fetcher.FetchCurrentMetrics(ctx, username)
	return m, false, err
}

// fromHistory builds a persisted result around the latest snapshot of a non-empty history.
func (s *Service) fromHistory(username string, history []*domain.Snapshot, cached bool) *RefreshResult {
	latest := history[len(history)-1]
	res := &RefreshResult{
		Username:  username,
		Metrics:   latest.Metrics(),
		Snapshot:  latest,
		Persisted: true,
		Cached:    cached,
	}
	if len(history) <= 1 {
		res.IsNewUser = true
		return res
	}
	res.Growth = growth.Compute(history, s.nowF(), s.windows)
	return res
}

// GetHistory returns the username's readings from the last days days, oldest first.
func (s *Service) GetHistory(ctx context.Context, raw string, days int) ([]HistoryPoint, error) {
	if days <= 0 {
		return nil, failure.InvalidInput("history", domain.NormalizeUsername(raw), "days must be a positive integer, got %d", days)
	}
	if days > MaxHistoryDays {
		return nil, failure.InvalidInput("history", domain.NormalizeUsername(raw), "days must be at most %d, got %d", MaxHistoryDays, days)
	}
	username, err := validUsername("history", raw)
	if err != nil {
		return nil, err
	}
	snaps, err := s.repo.History(ctx, username, time.Duration(days)*day)
	if err != nil {
		return nil, err
	}
	points := make([]HistoryPoint, 0, len(snaps))
	for _, snap := range snaps {
		points = append(points, HistoryPoint{
			RecordedAt:     snap.RecordedAt,
			FollowerCount:  snap.FollowerCount,
			FollowingCount: snap.FollowingCount,
			MediaCount:     snap.MediaCount,
		})
	}
	return points, nil
}

// GetGrowth computes growth from stored snapshots without calling the provider.
func (s *Service) GetGrowth(ctx context.Context, raw string) (*GrowthResult, error) {
	username, err := validUsername("growth", raw)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.History(ctx, username, 0)
	if err != nil {
		return nil, err
	}
	res := &GrowthResult{Username: username, SnapshotCount: len(history), IsNewUser: len(history) == 1}
	if len(history) > 1 {
		res.Growth = growth.Compute(history, s.nowF(), s.windows)
	}
	return res, nil
}

// ListTracked returns every tracked username.
func (s *Service) ListTracked(ctx context.Context) ([]string, error) {
	return s.repo.ListTrackedUsernames(ctx)
}

func (s *Service) emitRecorded(ctx context.Context, snap *domain.Snapshot) {
	if s.emitter == nil {
		return
	}
	event := telemetry.NewEvent(telemetry.EventSnapshotRecorded, "api", map[string]any{
		"snapshotId":     snap.ID,
		"followerCount":  snap.FollowerCount,
		"followingCount": snap.FollowingCount,
		"mediaCount":     snap.MediaCount,
		"recordedAt":     snap.RecordedAt,
	})
	event.Username = snap.Username
	telemetry.EmitAsync(s.emitter, ctx, event)
}

func validUsername(op, raw string) (string, error) {
	username := domain.NormalizeUsername(raw)
	if err := domain.ValidateUsername(username); err != nil {
		return "", failure.InvalidInput(op, username, "%w", err)
	}
	return username, nil
}
