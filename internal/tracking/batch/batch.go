// Package batch refreshes every tracked username in one bounded, fault-isolated run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/metrics"
	"growth-tracker/backend/internal/provider"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/snapshot/repository"
	"growth-tracker/backend/internal/telemetry"
)

// KindCanceled marks usernames the run gave up on because its context ended.
const KindCanceled failure.Kind = "canceled"

const (
	defaultWorkers         = 4
	defaultProviderTimeout = 10 * time.Second

	// DefaultTransientRetries is the retry budget callers should pass when none is configured.
	DefaultTransientRetries = 1
)

var (
	// ErrProviderUnavailable is returned with the result when every username failed with a transient error.
	ErrProviderUnavailable = errors.New("batch: provider unavailable for every tracked username")
	// ErrRunInProgress is returned when Run is called while another run of the same orchestrator is active.
	ErrRunInProgress = errors.New("batch: a refresh run is already in progress")
)

// Config tunes a run. Zero Workers and ProviderTimeout take the defaults.
type Config struct {
	Workers int
	// TransientRetries is how many extra attempts a Transient failure gets; zero disables retries.
	TransientRetries int
	ProviderTimeout  time.Duration
	// RunTimeout bounds a whole run; zero means only the caller's context does.
	RunTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.TransientRetries < 0 {
		c.TransientRetries = 0
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = defaultProviderTimeout
	}
	return c
}

// Failure describes one username that did not produce a snapshot.
type Failure struct {
	Username string       `json:"username"`
	Kind     failure.Kind `json:"kind"`
	Message  string       `json:"message"`
	Attempts int          `json:"attempts"`
}

// Result aggregates one run. SuccessCount + ErrorCount == TotalUsers.
type Result struct {
	RunID        string    `json:"runId"`
	TotalUsers   int       `json:"totalUsers"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	Failures     []Failure `json:"failures"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Orchestrator runs batch refreshes over the tracked usernames.
type Orchestrator struct {
	repo    repository.Repository
	fetcher provider.Fetcher
	cfg     Config
	emitter telemetry.EventEmitter
	metrics *metrics.BatchMetrics
	tracer  trace.Tracer
	nowF    func() time.Time
	running sync.Mutex
}

// NewOrchestrator returns an Orchestrator. emitter may be nil.
func NewOrchestrator(repo repository.Repository, fetcher provider.Fetcher, cfg Config, emitter telemetry.EventEmitter) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		emitter: emitter,
		tracer:  otel.Tracer("growth-tracker/batch"),
		nowF:    time.Now,
	}
}

// WithMetrics attaches Prometheus collectors.
func (o *Orchestrator) WithMetrics(m *metrics.BatchMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithClock replaces the clock used for StartedAt and FinishedAt. Intended for tests.
func (o *Orchestrator) WithClock(nowF func() time.Time) *Orchestrator {
	o.nowF = nowF
	return o
}

// partial is one worker's share of the result. Workers never share one.
type partial struct {
	success  int
	failures []indexedFailure
}

type indexedFailure struct {
	idx int
	Failure
}

type job struct {
	idx      int
	username string
}

// Run refreshes every tracked username once. A listing failure fails the run with a nil result.
// On cancellation the result is returned with the context error; on a total provider outage
// it is returned with ErrProviderUnavailable.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	res := &Result{RunID: uuid.NewString(), StartedAt: o.nowF().UTC(), Failures: []Failure{}}
	ctx, span := o.tracer.Start(ctx, "batch.Run", trace.WithAttributes(attribute.String("run_id", res.RunID)))
	defer span.End()
	log := logger.FromContext(ctx).With(zap.String("run_id", res.RunID))

	usernames, err := o.repo.ListTrackedUsernames(ctx)
	if err != nil {
		res.FinishedAt = o.nowF().UTC()
		o.metrics.ObserveRun("list_failed", res.StartedAt, res.FinishedAt)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list tracked usernames")
		log.Error("batch: list tracked usernames failed", zap.Error(err))
		return nil, fmt.Errorf("batch: list tracked usernames: %w", err)
	}
	res.TotalUsers = len(usernames)
	if len(usernames) == 0 {
		return o.finish(ctx, span, res, nil)
	}

	workers := min(o.cfg.Workers, len(usernames))
	partials := make([]partial, workers)
	jobs := make(chan job)
	var g errgroup.Group
	for i := range partials {
		p := &partials[i]
		g.Go(func() error {
			for j := range jobs {
				o.refreshOne(ctx, j, p)
			}
			return nil
		})
	}

	dispatched := 0
dispatch:
	for i, u := range usernames {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- job{idx: i, username: u}:
			dispatched++
		}
	}
	close(jobs)
	_ = g.Wait()

	var failures []indexedFailure
	for _, p := range partials {
		res.SuccessCount += p.success
		failures = append(failures, p.failures...)
	}
	for i := dispatched; i < len(usernames); i++ {
		failures = append(failures, indexedFailure{idx: i, Failure: Failure{
			Username: usernames[i],
			Kind:     KindCanceled,
			Message:  context.Cause(ctx).Error(),
		}})
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].idx < failures[b].idx })
	for _, f := range failures {
		res.Failures = append(res.Failures, f.Failure)
	}
	res.ErrorCount = len(res.Failures)

	switch {
	case ctx.Err() != nil:
		return o.finish(ctx, span, res, ctx.Err())
	case res.SuccessCount == 0 && allTransient(res.Failures):
		return o.finish(ctx, span, res, ErrProviderUnavailable)
	}
	return o.finish(ctx, span, res, nil)
}

// refreshOne fetches and stores one username, recording the outcome in p.
func (o *Orchestrator) refreshOne(ctx context.Context, j job, p *partial) {
	if err := ctx.Err(); err != nil {
		p.fail(j, KindCanceled, context.Cause(ctx), 0)
		return
	}
	var (
		m        *domain.Metrics
		err      error
		attempts int
	)
	for {
		attempts++
		m, err = o.fetch(ctx, j.username)
		if err == nil || !failure.Retryable(err) || attempts > o.cfg.TransientRetries || ctx.Err() != nil {
			break
		}
	}
	if err == nil {
		_, err = o.repo.Append(ctx, j.username, *m)
	}
	if err == nil {
		p.success++
		return
	}
	kind := failure.KindOf(err)
	if ctx.Err() != nil {
		kind = KindCanceled
	}
	logger.FromContext(ctx).Debug("batch: username failed",
		zap.String("username", j.username),
		zap.String("kind", string(kind)),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	p.fail(j, kind, err, attempts)
}

// fetch calls the gateway under the per-call timeout. An unclassified deadline expiry is Transient.
func (o *Orchestrator) fetch(ctx context.Context, username string) (*domain.Metrics, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()
	m, err := o.fetcher.FetchCurrentMetrics(callCtx, username)
	if err != nil && failure.KindOf(err) == failure.KindUnknown && ctx.Err() == nil &&
		errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, failure.Transient("fetch", username, err)
	}
	return m, err
}

func (p *partial) fail(j job, kind failure.Kind, err error, attempts int) {
	p.failures = append(p.failures, indexedFailure{idx: j.idx, Failure: Failure{
		Username: j.username,
		Kind:     kind,
		Message:  err.Error(),
		Attempts: attempts,
	}})
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, res *Result, runErr error) (*Result, error) {
	res.FinishedAt = o.nowF().UTC()
	outcome := "completed"
	switch {
	case errors.Is(runErr, ErrProviderUnavailable):
		outcome = "provider_unavailable"
	case runErr != nil:
		outcome = "canceled"
	}

	o.metrics.ObserveRun(outcome, res.StartedAt, res.FinishedAt)
	o.metrics.AddAccounts("success", res.SuccessCount)
	byKind := make(map[failure.Kind]int)
	for _, f := range res.Failures {
		byKind[f.Kind]++
	}
	for kind, n := range byKind {
		o.metrics.AddAccounts(string(kind), n)
	}

	span.SetAttributes(
		attribute.Int("total_users", res.TotalUsers),
		attribute.Int("success_count", res.SuccessCount),
		attribute.Int("error_count", res.ErrorCount),
		attribute.String("outcome", outcome),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, outcome)
	}

	logger.FromContext(ctx).Info("batch: refresh run finished",
		zap.String("run_id", res.RunID),
		zap.String("outcome", outcome),
		zap.Int("total_users", res.TotalUsers),
		zap.Int("success_count", res.SuccessCount),
		zap.Int("error_count", res.ErrorCount),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	)

	if o.emitter != nil {
		event := telemetry.NewEvent(telemetry.EventBatchRefreshCompleted, "batch", map[string]any{
			"outcome":        outcome,
			"totalUsers":     res.TotalUsers,
			"successCount":   res.SuccessCount,
			"errorCount":     res.ErrorCount,
			"failuresByKind": byKind,
			"durationMs":     res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		})
		event.RunID = res.RunID
		telemetry.EmitAsync(o.emitter, ctx, event)
	}
	return res, runErr
}

func allTransient(failures []Failure) bool {
	if len(failures) == 0 {
		return false
	}
	for _, f := range failures {
		if f.Kind != failure.KindTransient {
			return false
		}
	}
	return true
}
