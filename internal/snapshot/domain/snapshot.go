// Package domain defines tracked account readings and username normalization.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Metrics is one reading of an account's counters as returned by the provider.
type Metrics struct {
	FollowerCount  int64
	FollowingCount int64
	MediaCount     int64
}

// Snapshot is an immutable, store-stamped reading of an account's metrics.
// ID is assigned by the store and orders snapshots that share a RecordedAt.
type Snapshot struct {
	ID             int64
	Username       string
	FollowerCount  int64
	FollowingCount int64
	MediaCount     int64
	RecordedAt     time.Time
}

// Metrics returns the counters of s.
func (s *Snapshot) Metrics() Metrics {
	return Metrics{
		FollowerCount:  s.FollowerCount,
		FollowingCount: s.FollowingCount,
		MediaCount:     s.MediaCount,
	}
}

var (
	ErrEmptyUsername    = errors.New("username is empty")
	ErrInvalidUsername  = errors.New("username may contain only letters, digits, '.' and '_' (max 30)")
	ErrNegativeCounters = errors.New("metric counters must be non-negative")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// NormalizeUsername trims whitespace, strips a leading "@" and lower-cases the result.
func NormalizeUsername(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimPrefix(u, "@")
	return strings.ToLower(strings.TrimSpace(u))
}

// ValidateUsername checks an already-normalized username.
func ValidateUsername(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// Validate checks that all counters are non-negative.
func (m Metrics) Validate() error {
	if m.FollowerCount < 0 || m.FollowingCount < 0 || m.MediaCount < 0 {
		return ErrNegativeCounters
	}
	return nil
}
