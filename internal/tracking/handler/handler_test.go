package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/growth"
	"growth-tracker/backend/internal/security"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/tracking/batch"
	"growth-tracker/backend/internal/tracking/service"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAccounts struct {
	refresh     func(username string) (*service.RefreshResult, error)
	history     func(username string, days int) ([]service.HistoryPoint, error)
	growthRes   *service.GrowthResult
	tracked     []string
	err         error
	historyDays int
}

func (f *fakeAccounts) Refresh(ctx context.Context, username string) (*service.RefreshResult, error) {
	return f.refresh(username)
}

func (f *fakeAccounts) GetHistory(ctx context.Context, username string, days int) ([]service.HistoryPoint, error) {
	f.historyDays = days
	return f.history(username, days)
}

func (f *fakeAccounts) GetGrowth(ctx context.Context, username string) (*service.GrowthResult, error) {
	return f.growthRes, f.err
}

func (f *fakeAccounts) ListTracked(ctx context.Context) ([]string, error) {
	return f.tracked, f.err
}

type fakeRunner struct {
	res *batch.Result
	err error
	ctx context.Context
}

func (f *fakeRunner) Run(ctx context.Context) (*batch.Result, error) {
	f.ctx = ctx
	return f.res, f.err
}

func newRouter(accounts AccountService, runner BatchRunner, auth *security.TriggerAuth) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(accounts, runner).Register(r, security.RequireTrigger(auth))
	return r
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRefreshAccount_OK(t *testing.T) {
	accounts := &fakeAccounts{refresh: func(username string) (*service.RefreshResult, error) {
		return &service.RefreshResult{
			Username:  "alice",
			Metrics:   domain.Metrics{FollowerCount: 150, FollowingCount: 12, MediaCount: 7},
			Snapshot:  &domain.Snapshot{ID: 42, Username: "alice", FollowerCount: 150, RecordedAt: t0},
			Persisted: true,
			Growth: &growth.Stats{
				DaysTracked: 2,
				Windows:     []growth.Window{{Days: 7, FollowerDelta: 50, FollowerGrowthRate: 50}},
				Total:       growth.Window{Days: 2, FollowerDelta: 50},
			},
		}, nil
	}}
	w := do(newRouter(accounts, &fakeRunner{}, nil), http.MethodPost, "/api/v1/accounts/alice/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, true, body["persisted"])
	assert.Equal(t, float64(150), body["metrics"].(map[string]any)["followerCount"])
	assert.Equal(t, "42", body["snapshot"].(map[string]any)["id"])
	g := body["growth"].(map[string]any)
	assert.Equal(t, float64(2), g["daysTracked"])
	assert.Len(t, g["windows"], 1)
}

func TestRefreshAccount_NotPersisted(t *testing.T) {
	accounts := &fakeAccounts{refresh: func(username string) (*service.RefreshResult, error) {
		return &service.RefreshResult{Username: "alice", Metrics: domain.Metrics{FollowerCount: 1}, StorageError: "append: storage_failure"}, nil
	}}
	w := do(newRouter(accounts, &fakeRunner{}, nil), http.MethodPost, "/api/v1/accounts/alice/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["persisted"])
	assert.Nil(t, body["snapshot"])
	assert.Equal(t, "append: storage_failure", body["storageError"])
}

func TestRefreshAccount_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid", failure.InvalidInput("refresh", "x", "bad"), http.StatusBadRequest, "invalid_input"},
		{"not found", failure.NotFound("fetch", "x", nil), http.StatusNotFound, "not_found"},
		{"rate limited", failure.RateLimited("fetch", "x", 90*time.Second, nil), http.StatusTooManyRequests, "rate_limited"},
		{"transient", failure.Transient("fetch", "x", errors.New("reset")), http.StatusBadGateway, "transient"},
		{"storage", failure.Storage("history", "x", errors.New("db")), http.StatusServiceUnavailable, "storage_failure"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			accounts := &fakeAccounts{refresh: func(string) (*service.RefreshResult, error) { return nil, tc.err }}
			w := do(newRouter(accounts, &fakeRunner{}, nil), http.MethodPost, "/api/v1/accounts/x/refresh", nil)
			assert.Equal(t, tc.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tc.kind, body["kind"])
			if tc.kind == "unknown" {
				assert.NotContains(t, body["error"], "boom")
			}
			if tc.kind == "rate_limited" {
				assert.Equal(t, "90", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	accounts := &fakeAccounts{history: func(username string, days int) ([]service.HistoryPoint, error) {
		return []service.HistoryPoint{
			{RecordedAt: t0, FollowerCount: 10},
			{RecordedAt: t0.Add(time.Hour), FollowerCount: 12},
		}, nil
	}}
	r := newRouter(accounts, &fakeRunner{}, nil)

	w := do(r, http.MethodGet, "/api/v1/accounts/Alice/history?days=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, float64(5), body["days"])
	assert.Len(t, body["points"], 2)

	w = do(r, http.MethodGet, "/api/v1/accounts/alice/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DefaultHistoryDays, accounts.historyDays)
}

func TestGetHistory_BadDays(t *testing.T) {
	called := false
	accounts := &fakeAccounts{history: func(string, int) ([]service.HistoryPoint, error) {
		called = true
		return nil, nil
	}}
	w := do(newRouter(accounts, &fakeRunner{}, nil), http.MethodGet, "/api/v1/accounts/alice/history?days=week", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, called)
}

func TestGetHistory_EmptyPointsIsArray(t *testing.T) {
	accounts := &fakeAccounts{history: func(string, int) ([]service.HistoryPoint, error) {
		return []service.HistoryPoint{}, nil
	}}
	w := do(newRouter(accounts, &fakeRunner{}, nil), http.MethodGet, "/api/v1/accounts/nobody/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"points":[]`)
}

func TestGetGrowthAndList(t *testing.T) {
	accounts := &fakeAccounts{
		growthRes: &service.GrowthResult{Username: "alice", SnapshotCount: 1, IsNewUser: true},
		tracked:   nil,
	}
	r := newRouter(accounts, &fakeRunner{}, nil)

	w := do(r, http.MethodGet, "/api/v1/accounts/alice/growth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["isNewUser"])
	assert.Nil(t, body["growth"])

	w = do(r, http.MethodGet, "/api/v1/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"usernames":[]}`, w.Body.String())
}

func TestRunBatch(t *testing.T) {
	res := &batch.Result{RunID: "run-1", TotalUsers: 3, SuccessCount: 2, ErrorCount: 1,
		Failures: []batch.Failure{{Username: "bob", Kind: failure.KindNotFound, Attempts: 1}}}

	testCases := []struct {
		name   string
		runner *fakeRunner
		status int
	}{
		{"ok", &fakeRunner{res: res}, http.StatusOK},
		{"provider unavailable", &fakeRunner{res: res, err: batch.ErrProviderUnavailable}, http.StatusBadGateway},
		{"canceled", &fakeRunner{res: res, err: context.DeadlineExceeded}, http.StatusInternalServerError},
		{"listing failed", &fakeRunner{err: failure.Storage("list_tracked", "", errors.New("db"))}, http.StatusServiceUnavailable},
		{"in progress", &fakeRunner{err: batch.ErrRunInProgress}, http.StatusConflict},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(newRouter(&fakeAccounts{}, tc.runner, nil), http.MethodPost, "/internal/jobs/refresh", nil)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				body := decode(t, w)
				assert.Equal(t, true, body["success"])
				assert.Equal(t, "run-1", body["runId"])
				assert.Equal(t, float64(2), body["successCount"])
				assert.Len(t, body["failures"], 1)
			}
		})
	}
}

func TestRunBatch_DetachedFromCaller(t *testing.T) {
	runner := &fakeRunner{res: &batch.Result{}}
	r := newRouter(&fakeAccounts{}, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/internal/jobs/refresh", nil).WithContext(ctx)
	cancel()
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, runner.ctx)
	assert.NoError(t, runner.ctx.Err())
}

func TestRunBatch_RequiresTrigger(t *testing.T) {
	auth := security.NewTriggerAuth("s3cret", "growth-scheduler", time.Minute)
	runner := &fakeRunner{res: &batch.Result{}}
	r := newRouter(&fakeAccounts{}, runner, auth)

	w := do(r, http.MethodPost, "/internal/jobs/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, runner.ctx)

	w = do(r, http.MethodPost, "/internal/jobs/refresh", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, w.Code)

	token, _, err := auth.Issue("cron")
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/internal/jobs/refresh", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
}
