package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/asteroid-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
)

// DefaultFeedURL is the NeoWs feed endpoint.
const DefaultFeedURL = "https://api.nasa.gov/neo/rest/v1/feed"

// FeedClient fetches and normalizes the near-Earth-object feed.
type FeedClient interface {
	GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrBadRequest      = errors.New("feed rejected request")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// NeoWsClient calls the NASA NeoWs feed.
type NeoWsClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewNeoWsClient returns a client with three attempts and default backoff.
func NewNeoWsClient(apiKey, apiURL string, timeout time.Duration) (*NeoWsClient, error) {
	return NewNeoWsClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewNeoWsClientWithRetry returns a client with explicit retry settings.
// retryAttempts of 1 disables retries.
func NewNeoWsClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*NeoWsClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultFeedURL
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &NeoWsClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every upstream attempt through cb. Call before serving traffic.
func (c *NeoWsClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// GetFeed fetches the feed for r and normalizes it. Malformed entries are
// dropped and counted in Feed.Skipped; transport and status errors are returned.
func (c *NeoWsClient) GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.FeedAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.Feed{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		feed, err := c.attempt(ctx, r)
		if err == nil {
			return feed, nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			return models.Feed{}, err
		}
	}

	return models.Feed{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *NeoWsClient) attempt(ctx context.Context, r models.DateRange) (models.Feed, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, r)
	}
	var feed models.Feed
	var callErr error
	err := c.breaker.Call(ctx, func() error {
		feed, callErr = c.callAPI(ctx, r)
		if errors.Is(callErr, ErrBadRequest) || errors.Is(callErr, context.Canceled) {
			// caller mistakes say nothing about upstream health
			return nil
		}
		return callErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		return models.Feed{}, fmt.Errorf("neo feed: %w", err)
	}
	return feed, callErr
}

func (c *NeoWsClient) callAPI(ctx context.Context, r models.DateRange) (models.Feed, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, r)
	if err != nil {
		observability.FeedAPICallsTotal.WithLabelValues("error").Inc()
		return models.Feed{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.FeedAPICallsTotal.WithLabelValues("error").Inc()
		observability.FeedAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Feed{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Feed{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.FeedAPICallsTotal.WithLabelValues(status).Inc()
	observability.FeedAPIDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return models.Feed{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Feed{}, fmt.Errorf("read response body: %w", err)
	}

	asteroids, skipped, err := Normalize(body)
	if err != nil {
		return models.Feed{}, err
	}
	observability.FeedRecordsSkippedTotal.Add(float64(skipped))
	observability.FeedRecordsLast.Set(float64(len(asteroids)))

	return models.Feed{
		StartDate: r.StartDate(),
		EndDate:   r.EndDate(),
		Asteroids: asteroids,
		Skipped:   skipped,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *NeoWsClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (c *NeoWsClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *NeoWsClient) buildRequest(ctx context.Context, r models.DateRange) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("start_date", r.StartDate())
	params.Set("end_date", r.EndDate())
	params.Set("api_key", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *NeoWsClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a one-day feed request and reports whether the key is accepted.
func (c *NeoWsClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(ctx, models.NewDateRange(time.Now(), 0))
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
