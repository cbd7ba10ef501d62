package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"growth-tracker/backend/internal/snapshot/domain"
)

// usernameLog is one username's ordered snapshots. Its mutex serializes appends for that username only.
type usernameLog struct {
	mu      sync.RWMutex
	entries []domain.Snapshot
}

// MemoryRepository is an in-memory Repository. Contents do not survive a restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	logs    map[string]*usernameLog
	tracked map[string]struct{}
	ids     *snowflake.Node
	nowF    func() time.Time
}

// NewMemoryRepository returns an empty in-memory snapshot store that mints IDs from ids.
func NewMemoryRepository(ids *snowflake.Node) *MemoryRepository {
	return &MemoryRepository{
		logs:    make(map[string]*usernameLog),
		tracked: make(map[string]struct{}),
		ids:     ids,
		nowF:    time.Now,
	}
}

// WithClock replaces the store clock. Intended for tests.
func (r *MemoryRepository) WithClock(nowF func() time.Time) *MemoryRepository {
	r.nowF = nowF
	return r
}

// Append stores one snapshot for username.
func (r *MemoryRepository) Append(ctx context.Context, username string, m domain.Metrics) (*domain.Snapshot, error) {
	username, err := prepareAppend(username, m)
	if err != nil {
		return nil, err
	}
	l := r.logFor(username)

	l.mu.Lock()
	defer l.mu.Unlock()
	recordedAt := r.nowF().UTC()
	if n := len(l.entries); n > 0 && recordedAt.Before(l.entries[n-1].RecordedAt) {
		recordedAt = l.entries[n-1].RecordedAt
	}
	s := domain.Snapshot{
		ID:             r.ids.Generate().Int64(),
		Username:       username,
		FollowerCount:  m.FollowerCount,
		FollowingCount: m.FollowingCount,
		MediaCount:     m.MediaCount,
		RecordedAt:     recordedAt,
	}
	l.entries = append(l.entries, s)
	if len(l.entries) == 1 {
		r.mu.Lock()
		r.tracked[username] = struct{}{}
		r.mu.Unlock()
	}
	out := s
	return &out, nil
}

// History returns copies of the username's snapshots recorded at or after now-since.
func (r *MemoryRepository) History(ctx context.Context, username string, since time.Duration) ([]*domain.Snapshot, error) {
	username, err := prepareRead(username)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	l, ok := r.logs[username]
	r.mu.RUnlock()
	if !ok {
		return []*domain.Snapshot{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if since > 0 {
		cutoff := r.nowF().UTC().Add(-since)
		start = sort.Search(len(l.entries), func(i int) bool {
			return !l.entries[i].RecordedAt.Before(cutoff)
		})
	}
	out := make([]*domain.Snapshot, 0, len(l.entries)-start)
	for i := start; i < len(l.entries); i++ {
		s := l.entries[i]
		out = append(out, &s)
	}
	return out, nil
}

// ListTrackedUsernames reads the username index without touching snapshot bodies.
func (r *MemoryRepository) ListTrackedUsernames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	out := make([]string, 0, len(r.tracked))
	for u := range r.tracked {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) logFor(username string) *usernameLog {
	r.mu.RLock()
	l, ok := r.logs[username]
	r.mu.RUnlock()
	if ok {
		return l
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.logs[username]; ok {
		return l
	}
	l = &usernameLog{}
	r.logs[username] = l
	return l
}
