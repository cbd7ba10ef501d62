// Package growth derives growth statistics from a username's snapshot history.
// Everything here is pure: the reference time and the windows are parameters.
package growth

import (
	"time"

	"growth-tracker/backend/internal/snapshot/domain"
)

const day = 24 * time.Hour

// DefaultWindows are the trailing windows reported when none are configured.
var DefaultWindows = []time.Duration{1 * day, 7 * day, 30 * day}

// Window holds the deltas over one trailing window.
type Window struct {
	Span               time.Duration
	Days               int
	BaselineAt         time.Time
	FollowerDelta      int64
	FollowingDelta     int64
	MediaDelta         int64
	FollowerGrowthRate float64
}

// Stats is the derived, never-persisted growth summary of one username.
type Stats struct {
	DaysTracked     int
	FirstRecordedAt time.Time
	LastRecordedAt  time.Time
	Current         domain.Metrics
	// Windows follows the order of the windows passed to Compute.
	Windows []Window
	// Total compares the latest snapshot with the first one.
	Total Window
}

// Compute returns growth statistics for history, which must be ordered oldest first.
// It returns nil when history is empty. Non-positive windows are skipped.
func Compute(history []*domain.Snapshot, now time.Time, windows []time.Duration) *Stats {
	if len(history) == 0 {
		return nil
	}
	first, last := history[0], history[len(history)-1]
	st := &Stats{
		DaysTracked:     DaysTracked(first.RecordedAt, last.RecordedAt),
		FirstRecordedAt: first.RecordedAt,
		LastRecordedAt:  last.RecordedAt,
		Current:         last.Metrics(),
		Windows:         make([]Window, 0, len(windows)),
	}
	for _, w := range windows {
		if w <= 0 {
			continue
		}
		st.Windows = append(st.Windows, delta(baseline(history, now.Add(-w)), last, w))
	}
	st.Total = delta(first, last, last.RecordedAt.Sub(first.RecordedAt))
	st.Total.Days = st.DaysTracked
	return st
}

// DaysTracked is the whole-day span between first and last rounded up, never less than 1.
func DaysTracked(first, last time.Time) int {
	span := last.Sub(first)
	if span <= 0 {
		return 1
	}
	days := int(span / day)
	if span%day != 0 {
		days++
	}
	if days < 1 {
		return 1
	}
	return days
}

// GrowthRate is delta as a percentage of base. A base below 1 counts as 1.
func GrowthRate(delta, base int64) float64 {
	if base < 1 {
		base = 1
	}
	return float64(delta) / float64(base) * 100
}

// baseline picks the earliest snapshot recorded at or after cutoff. When every snapshot
// is older than cutoff the latest one is used, so the window reports no change.
func baseline(history []*domain.Snapshot, cutoff time.Time) *domain.Snapshot {
	for _, s := range history {
		if !s.RecordedAt.Before(cutoff) {
			return s
		}
	}
	return history[len(history)-1]
}

func delta(base, last *domain.Snapshot, span time.Duration) Window {
	w := Window{
		Span:           span,
		Days:           int(span / day),
		BaselineAt:     base.RecordedAt,
		FollowerDelta:  last.FollowerCount - base.FollowerCount,
		FollowingDelta: last.FollowingCount - base.FollowingCount,
		MediaDelta:     last.MediaCount - base.MediaCount,
	}
	w.FollowerGrowthRate = GrowthRate(w.FollowerDelta, base.FollowerCount)
	return w
}
