package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/metrics"
	"growth-tracker/backend/internal/provider"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/snapshot/repository"
	"growth-tracker/backend/internal/telemetry"
)

// callCounter wraps a fetch function and counts calls per username.
type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, username string, call int) (*domain.Metrics, error)
}

func newCounter(fn func(ctx context.Context, username string, call int) (*domain.Metrics, error)) *callCounter {
	return &callCounter{calls: map[string]int{}, fn: fn}
}

func (c *callCounter) FetchCurrentMetrics(ctx context.Context, username string) (*domain.Metrics, error) {
	c.mu.Lock()
	c.calls[username]++
	n := c.calls[username]
	c.mu.Unlock()
	return c.fn(ctx, username, n)
}

func (c *callCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *callCounter) callsFor(username string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[username]
}

func ok(ctx context.Context, username string, call int) (*domain.Metrics, error) {
	return &domain.Metrics{FollowerCount: 100, FollowingCount: 10, MediaCount: 1}, nil
}

func seeded(t *testing.T, usernames ...string) *repository.MemoryRepository {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := repository.NewMemoryRepository(node)
	for _, u := range usernames {
		_, err := repo.Append(context.Background(), u, domain.Metrics{})
		require.NoError(t, err)
	}
	return repo
}

func historyLen(t *testing.T, repo repository.Repository, username string) int {
	t.Helper()
	h, err := repo.History(context.Background(), username, 0)
	require.NoError(t, err)
	return len(h)
}

func usernames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%02d", i)
	}
	return out
}

func TestRun_EmptyIndexSkipsProvider(t *testing.T) {
	repo := seeded(t)
	fetcher := newCounter(ok)
	res, err := NewOrchestrator(repo, fetcher, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalUsers)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Empty(t, res.Failures)
	assert.NotEmpty(t, res.RunID)
	assert.Zero(t, fetcher.total())
}

func TestRun_PartialFailuresAreIsolated(t *testing.T) {
	names := usernames(10)
	repo := seeded(t, names...)
	missing := map[string]bool{"user02": true, "user05": true, "user09": true}
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		if missing[username] {
			return nil, failure.NotFound("fetch", username, nil)
		}
		return ok(ctx, username, call)
	})

	res, err := NewOrchestrator(repo, fetcher, Config{Workers: 3}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalUsers)
	assert.Equal(t, 7, res.SuccessCount)
	assert.Equal(t, 3, res.ErrorCount)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, []string{"user02", "user05", "user09"},
		[]string{res.Failures[0].Username, res.Failures[1].Username, res.Failures[2].Username})
	for _, f := range res.Failures {
		assert.Equal(t, failure.KindNotFound, f.Kind)
		assert.Equal(t, 1, f.Attempts)
	}
	for _, u := range names {
		want := 2
		if missing[u] {
			want = 1
		}
		assert.Equal(t, want, historyLen(t, repo, u), u)
	}
}

func TestRun_RetryBudgetPerKind(t *testing.T) {
	repo := seeded(t, "flaky", "down", "limited", "gone", "bad")
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		switch username {
		case "flaky":
			if call == 1 {
				return nil, failure.Transient("fetch", username, errors.New("reset"))
			}
			return ok(ctx, username, call)
		case "down":
			return nil, failure.Transient("fetch", username, errors.New("503"))
		case "limited":
			return nil, failure.RateLimited("fetch", username, time.Minute, nil)
		case "gone":
			return nil, failure.NotFound("fetch", username, nil)
		default:
			return nil, failure.InvalidInput("fetch", username, "rejected")
		}
	})

	res, err := NewOrchestrator(repo, fetcher, Config{TransientRetries: 1}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 4, res.ErrorCount)

	assert.Equal(t, 2, fetcher.callsFor("flaky"))
	assert.Equal(t, 2, fetcher.callsFor("down"))
	assert.Equal(t, 1, fetcher.callsFor("limited"))
	assert.Equal(t, 1, fetcher.callsFor("gone"))
	assert.Equal(t, 1, fetcher.callsFor("bad"))

	kinds := map[string]failure.Kind{}
	for _, f := range res.Failures {
		kinds[f.Username] = f.Kind
	}
	assert.Equal(t, failure.KindTransient, kinds["down"])
	assert.Equal(t, failure.KindRateLimited, kinds["limited"])
	assert.Equal(t, failure.KindNotFound, kinds["gone"])
	assert.Equal(t, failure.KindInvalidInput, kinds["bad"])
}

func TestRun_ZeroRetries(t *testing.T) {
	repo := seeded(t, "down", "up")
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		if username == "down" {
			return nil, failure.Transient("fetch", username, errors.New("503"))
		}
		return ok(ctx, username, call)
	})
	res, err := NewOrchestrator(repo, fetcher, Config{TransientRetries: 0}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.callsFor("down"))
	assert.Equal(t, 1, res.SuccessCount)
}

func TestRun_ProviderUnavailable(t *testing.T) {
	repo := seeded(t, usernames(4)...)
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		return nil, failure.Transient("fetch", username, errors.New("connection refused"))
	})
	res, err := NewOrchestrator(repo, fetcher, Config{}, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrProviderUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, 4, res.ErrorCount)
	assert.Equal(t, 0, res.SuccessCount)
}

func TestRun_MixedFailuresAreNotAnOutage(t *testing.T) {
	repo := seeded(t, "a1", "b2")
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		if username == "a1" {
			return nil, failure.Transient("fetch", username, errors.New("503"))
		}
		return nil, failure.NotFound("fetch", username, nil)
	})
	res, err := NewOrchestrator(repo, fetcher, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ErrorCount)
}

type listFailRepo struct{ repository.Repository }

func (listFailRepo) ListTrackedUsernames(ctx context.Context) ([]string, error) {
	return nil, failure.Storage("list_tracked", "", errors.New("db down"))
}

func TestRun_ListingFailureFailsRun(t *testing.T) {
	fetcher := newCounter(ok)
	res, err := NewOrchestrator(listFailRepo{seeded(t)}, fetcher, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrStorage)
	assert.Nil(t, res)
	assert.Zero(t, fetcher.total())
}

type appendFailRepo struct {
	*repository.MemoryRepository
	appends atomic.Int32
}

func (r *appendFailRepo) Append(ctx context.Context, username string, m domain.Metrics) (*domain.Snapshot, error) {
	r.appends.Add(1)
	return nil, failure.Storage("append", username, errors.New("disk full"))
}

func TestRun_StorageFailureIsRecordedNotRetried(t *testing.T) {
	repo := &appendFailRepo{MemoryRepository: seeded(t, "alice", "bob")}
	fetcher := newCounter(ok)
	res, err := NewOrchestrator(repo, fetcher, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, int32(2), repo.appends.Load())
	for _, f := range res.Failures {
		assert.Equal(t, failure.KindStorage, f.Kind)
		assert.Contains(t, f.Message, "disk full")
	}
}

func TestRun_PerCallTimeoutIsTransient(t *testing.T) {
	repo := seeded(t, "slow")
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	res, err := NewOrchestrator(repo, fetcher, Config{TransientRetries: 1, ProviderTimeout: 20 * time.Millisecond}, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrProviderUnavailable)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, failure.KindTransient, res.Failures[0].Kind)
	assert.Equal(t, 2, res.Failures[0].Attempts)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	repo := seeded(t, usernames(5)...)
	fetcher := newCounter(ok)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewOrchestrator(repo, fetcher, Config{}, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 5, res.TotalUsers)
	assert.Equal(t, res.TotalUsers, res.SuccessCount+res.ErrorCount)
	for _, f := range res.Failures {
		assert.Equal(t, KindCanceled, f.Kind)
	}
}

func TestRun_CanceledMidRunAccountsForEveryUsername(t *testing.T) {
	names := usernames(20)
	repo := seeded(t, names...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := newCounter(func(c context.Context, username string, call int) (*domain.Metrics, error) {
		if username == "user03" {
			cancel()
		}
		return ok(c, username, call)
	})

	res, err := NewOrchestrator(repo, fetcher, Config{Workers: 1}, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 20, res.TotalUsers)
	assert.Equal(t, res.TotalUsers, res.SuccessCount+res.ErrorCount)
	assert.Less(t, fetcher.total(), 20)
	assert.GreaterOrEqual(t, res.ErrorCount, 15)
}

func TestRun_WorkerPoolIsBounded(t *testing.T) {
	repo := seeded(t, usernames(24)...)
	var inFlight, peak atomic.Int32
	fetcher := provider.FetcherFunc(func(ctx context.Context, username string) (*domain.Metrics, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &domain.Metrics{FollowerCount: 1}, nil
	})
	res, err := NewOrchestrator(repo, fetcher, Config{Workers: 3}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, res.SuccessCount)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_RejectsOverlappingRuns(t *testing.T) {
	repo := seeded(t, "alice")
	release := make(chan struct{})
	entered := make(chan struct{})
	fetcher := provider.FetcherFunc(func(ctx context.Context, username string) (*domain.Metrics, error) {
		close(entered)
		<-release
		return &domain.Metrics{}, nil
	})
	o := NewOrchestrator(repo, fetcher, Config{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()
	<-entered
	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	close(release)
	require.NoError(t, <-done)
}

type eventSink struct{ events chan *telemetry.Event }

func (s *eventSink) Emit(ctx context.Context, e *telemetry.Event) error {
	s.events <- e
	return nil
}

func TestRun_RecordsMetricsAndEmitsEvent(t *testing.T) {
	repo := seeded(t, "alice", "bob")
	fetcher := newCounter(func(ctx context.Context, username string, call int) (*domain.Metrics, error) {
		if username == "bob" {
			return nil, failure.NotFound("fetch", username, nil)
		}
		return ok(ctx, username, call)
	})
	reg := prometheus.NewRegistry()
	m := metrics.NewBatchMetrics(reg, metrics.Config{})
	sink := &eventSink{events: make(chan *telemetry.Event, 1)}

	res, err := NewOrchestrator(repo, fetcher, Config{}, sink).WithMetrics(m).Run(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	n, err := testutil.GatherAndCount(reg, "growth_batch_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case e := <-sink.events:
		assert.Equal(t, telemetry.EventBatchRefreshCompleted, e.Type)
		assert.Equal(t, res.RunID, e.RunID)
		assert.Contains(t, string(e.Metadata), `"successCount":1`)
	case <-time.After(2 * time.Second):
		t.Fatal("batch_refresh_completed not emitted")
	}
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	repo := seeded(t, "alice")
	o := NewOrchestrator(repo, newCounter(ok), Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	err := o.RunForever(ctx, 5*time.Millisecond, func(res *Result, err error) {
		if runs.Add(1) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
	assert.GreaterOrEqual(t, historyLen(t, repo, "alice"), 3)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{TransientRetries: -2}.withDefaults()
	assert.Equal(t, defaultWorkers, c.Workers)
	assert.Equal(t, 0, c.TransientRetries)
	assert.Equal(t, defaultProviderTimeout, c.ProviderTimeout)
}
