package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/snapshot/domain"
)

const (
	defaultTimeout = 10 * time.Second
	op             = "fetch_metrics"
	maxErrorBody   = 512
)

// HTTPClient fetches account metrics from the provider's REST API:
// GET {BaseURL}/v1/users/{username} authenticated with the X-API-Key header.
type HTTPClient struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

var _ Fetcher = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL. timeout bounds each call; 0 uses the default.
// Outbound requests are traced with otelhttp.
func NewHTTPClient(apiKey, baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// userResponse is the provider's account payload.
type userResponse struct {
	Username       string `json:"username"`
	FollowerCount  *int64 `json:"follower_count"`
	FollowingCount *int64 `json:"following_count"`
	MediaCount     *int64 `json:"media_count"`
	IsPrivate      bool   `json:"is_private"`
}

// FetchCurrentMetrics validates username and reads its counters from the provider.
func (c *HTTPClient) FetchCurrentMetrics(ctx context.Context, raw string) (*domain.Metrics, error) {
	username := domain.NormalizeUsername(raw)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, failure.InvalidInput(op, username, "%w", err)
	}
	if c.BaseURL == "" {
		return nil, failure.Transient(op, username, errors.New("provider base URL not configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/users/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, failure.InvalidInput(op, username, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, failure.Transient(op, username, classifyTransport(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, failure.NotFound(op, username, errors.New("account does not exist"))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, failure.RateLimited(op, username, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), statusError(resp))
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, failure.InvalidInput(op, username, "%w", statusError(resp))
	default:
		return nil, failure.Transient(op, username, statusError(resp))
	}

	var body userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, failure.Transient(op, username, fmt.Errorf("decode response: %w", err))
	}
	if body.IsPrivate {
		return nil, failure.NotFound(op, username, errors.New("account is private"))
	}
	if body.FollowerCount == nil || body.FollowingCount == nil || body.MediaCount == nil {
		return nil, failure.Transient(op, username, errors.New("response is missing counters"))
	}
	m := &domain.Metrics{
		FollowerCount:  *body.FollowerCount,
		FollowingCount: *body.FollowingCount,
		MediaCount:     *body.MediaCount,
	}
	if err := m.Validate(); err != nil {
		return nil, failure.Transient(op, username, err)
	}
	return m, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("provider: request failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// classifyTransport keeps the cause but marks timeouts explicitly in the message.
func classifyTransport(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("provider timeout: %w", err)
	}
	return err
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date. 0 means unknown.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
