package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/asteroid-dashboard/internal/cache"
	"github.com/kjstillabower/asteroid-dashboard/internal/client"
	"github.com/kjstillabower/asteroid-dashboard/internal/dashboard"
	"github.com/kjstillabower/asteroid-dashboard/internal/health"
	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/service"
)

var testNow = time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)

// fakeFeeds is a FeedSource with a fixed window.
type fakeFeeds struct {
	mu     sync.Mutex
	feed   models.Feed
	err    error
	ranges []models.DateRange
}

func (f *fakeFeeds) CurrentWindow() models.DateRange {
	return models.NewDateRange(testNow, 7)
}

func (f *fakeFeeds) GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, r)
	return f.feed, f.err
}

// countingClient is a client.FeedClient that counts upstream calls.
type countingClient struct {
	calls atomic.Int32
	feed  models.Feed
}

func (c *countingClient) GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error) {
	c.calls.Add(1)
	return c.feed, nil
}

func (c *countingClient) ValidateAPIKey(ctx context.Context) error { return nil }

var _ client.FeedClient = (*countingClient)(nil)

type fixedJitter struct{}

func (fixedJitter) Offset(models.Asteroid) (float64, float64) { return 1, -1 }

func sampleFeed() models.Feed {
	return models.Feed{
		StartDate: "2026-10-15",
		EndDate:   "2026-10-22",
		Asteroids: []models.Asteroid{
			{Name: "(2026 TX1)", DiameterM: 150, SpeedKmh: 45000.5, DistanceKm: 7000000, OrbitingBody: "Earth", Hazardous: true},
			{Name: "<script>alert(1)</script>", DiameterM: 20, SpeedKmh: 30000, DistanceKm: 900000, OrbitingBody: "Earth"},
			{Name: "(2026 TX1)", DiameterM: 1, SpeedKmh: 1, DistanceKm: 1, OrbitingBody: "Mars"},
		},
	}
}

func newTestHandler(feeds FeedSource) (*Handler, *health.Monitor) {
	clock := clockwork.NewFakeClockAt(testNow)
	monitor := health.NewMonitor(health.Config{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, health.NewTracker(clock), clock)
	h := NewHandler(feeds, zap.NewNop(), Options{Jitter: fixedJitter{}, Monitor: monitor})
	return h, monitor
}

func decodeError(t *testing.T, body *strings.Reader) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "error response missing 'error' field")
	return errObj
}

// TestHandler_GetDashboard_RendersPage verifies that the page carries the
// tiles, selector, details and map for a non-empty feed.
func TestHandler_GetDashboard_RendersPage(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{feed: sampleFeed()})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.GetDashboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	for _, want := range []string{
		"Asteroid Impact Simulator",
		"Total Asteroids",
		"Average Diameter (m)</span><span class=\"value\">57.00",
		"Average Speed (km/h)</span><span class=\"value\">25000.50",
		"<select id=\"asteroid\" name=\"asteroid\"",
		"Asteroid Details: (2026 TX1)",
		"150 meters",
		"scattergeo",
		"equirectangular",
		dashboard.CaptionTitle,
	} {
		assert.Contains(t, body, want)
	}
	assert.Equal(t, 2, strings.Count(body, "<option "), "duplicate names collapse to one option")
	assert.NotContains(t, body, "<script>alert(1)</script>", "names must be escaped")
	assert.NotContains(t, body, "role=\"alert\"")
}

// TestHandler_GetDashboard_Selection verifies ?asteroid= picks the record and
// marks the option selected.
func TestHandler_GetDashboard_Selection(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{feed: sampleFeed()})

	req := httptest.NewRequest(http.MethodGet, "/?asteroid=%3Cscript%3Ealert(1)%3C%2Fscript%3E", nil)
	w := httptest.NewRecorder()
	h.GetDashboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "20 meters")
	assert.Contains(t, body, "&lt;script&gt;alert(1)&lt;/script&gt;\" selected")
}

// TestHandler_GetDashboard_EmptyFeed verifies the page stops at the warning
// and omits the selector and map.
func TestHandler_GetDashboard_EmptyFeed(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{feed: models.Feed{Asteroids: []models.Asteroid{}}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.GetDashboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, dashboard.EmptyWarning)
	assert.NotContains(t, body, "<select")
	assert.NotContains(t, body, "Total Asteroids")
	assert.NotContains(t, body, "scattergeo")
}

// TestHandler_GetDashboard_FetchErrorLoggedNotShown verifies a feed failure
// renders the shared warning and logs the cause.
func TestHandler_GetDashboard_FetchErrorLoggedNotShown(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	clock := clockwork.NewFakeClockAt(testNow)
	monitor := health.NewMonitor(health.Config{}, health.NewTracker(clock), clock)
	feeds := &fakeFeeds{err: fmt.Errorf("fetch feed: %w", client.ErrInvalidAPIKey)}
	h := NewHandler(feeds, zap.New(core), Options{Jitter: fixedJitter{}, Monitor: monitor})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.GetDashboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), dashboard.EmptyWarning)
	assert.NotContains(t, w.Body.String(), "invalid API key")

	entries := logs.FilterMessage("feed unavailable; rendering empty dashboard").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "invalid")

	errs, total := monitor.Tracker().ErrorRate(time.Minute)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, total)
}

// TestHandler_GetDashboard_InvalidSelectionFallsBack verifies a bad query
// value is ignored on the HTML page.
func TestHandler_GetDashboard_InvalidSelectionFallsBack(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{feed: sampleFeed()})

	req := httptest.NewRequest(http.MethodGet, "/?asteroid=bad%00name", nil)
	w := httptest.NewRecorder()
	h.GetDashboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Asteroid Details: (2026 TX1)")
}

// TestHandler_GetDashboardJSON verifies the JSON view and first-match selection.
func TestHandler_GetDashboardJSON(t *testing.T) {
	feeds := &fakeFeeds{feed: sampleFeed()}
	h, _ := newTestHandler(feeds)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard?asteroid=(2026%20TX1)", nil)
	w := httptest.NewRecorder()
	h.GetDashboardJSON(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var view dashboard.View
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, "(2026 TX1)", view.Selected)
	require.NotNil(t, view.Asteroid)
	assert.Equal(t, "Earth", view.Asteroid.OrbitingBody, "first occurrence wins")
	require.NotNil(t, view.Summary)
	assert.Equal(t, 3, view.Summary.Count)
	require.NotNil(t, view.Impact)
	assert.Equal(t, 21.0, view.Impact.Lat)
	assert.Equal(t, -1.0, view.Impact.Lon)
	assert.Equal(t, "2026-10-15", view.StartDate)
	assert.Equal(t, "2026-10-22", view.EndDate)

	require.Len(t, feeds.ranges, 1)
	assert.Equal(t, "2026-10-15_2026-10-22", feeds.ranges[0].Key())
}

// TestHandler_GetDashboardJSON_InvalidSelection verifies 400 INVALID_ASTEROID.
func TestHandler_GetDashboardJSON_InvalidSelection(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{feed: sampleFeed()})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard?asteroid="+strings.Repeat("x", 101), nil)
	w := httptest.NewRecorder()
	h.GetDashboardJSON(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decodeError(t, strings.NewReader(w.Body.String()))
	assert.Equal(t, "INVALID_ASTEROID", errObj["code"])
}

// TestHandler_GetDashboardJSON_Empty verifies the JSON view carries only the warning.
func TestHandler_GetDashboardJSON_Empty(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{err: client.ErrUpstreamFailure})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	w := httptest.NewRecorder()
	h.GetDashboardJSON(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	assert.Equal(t, dashboard.EmptyWarning, raw["warning"])
	for _, absent := range []string{"summary", "names", "asteroid", "details", "impact", "caption"} {
		assert.NotContains(t, raw, absent)
	}
}

// TestHandler_UnencodableResponseIs500 verifies that a value JSON cannot carry
// produces an error body rather than an empty 200.
func TestHandler_UnencodableResponseIs500(t *testing.T) {
	feed := sampleFeed()
	feed.Asteroids[0].DiameterM = math.NaN()
	h, _ := newTestHandler(&fakeFeeds{feed: feed})

	for _, path := range []string{"/api/asteroids", "/api/dashboard"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			if path == "/api/asteroids" {
				h.GetAsteroids(w, httptest.NewRequest(http.MethodGet, path, nil))
			} else {
				h.GetDashboardJSON(w, httptest.NewRequest(http.MethodGet, path, nil))
			}

			require.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			errObj := decodeError(t, strings.NewReader(w.Body.String()))
			assert.Equal(t, "INTERNAL_ERROR", errObj["code"])
		})
	}
}

// TestHandler_GetAsteroids verifies the normalized feed for an explicit range.
func TestHandler_GetAsteroids(t *testing.T) {
	feeds := &fakeFeeds{feed: sampleFeed()}
	h, _ := newTestHandler(feeds)

	req := httptest.NewRequest(http.MethodGet, "/api/asteroids?start_date=2026-01-01&end_date=2026-01-03", nil)
	w := httptest.NewRecorder()
	h.GetAsteroids(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var feed models.Feed
	require.NoError(t, json.NewDecoder(w.Body).Decode(&feed))
	assert.Len(t, feed.Asteroids, 3)
	require.Len(t, feeds.ranges, 1)
	assert.Equal(t, "2026-01-01_2026-01-03", feeds.ranges[0].Key())
}

// TestHandler_GetAsteroids_InvalidRange verifies 400 INVALID_DATE_RANGE
// without an upstream call.
func TestHandler_GetAsteroids_InvalidRange(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unparseable", "start_date=01/01/2026"},
		{"reversed", "start_date=2026-01-05&end_date=2026-01-01"},
		{"over seven days", "start_date=2026-01-01&end_date=2026-01-09"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			feeds := &fakeFeeds{feed: sampleFeed()}
			h, _ := newTestHandler(feeds)

			req := httptest.NewRequest(http.MethodGet, "/api/asteroids?"+tc.query, nil)
			w := httptest.NewRecorder()
			h.GetAsteroids(w, req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			errObj := decodeError(t, strings.NewReader(w.Body.String()))
			assert.Equal(t, "INVALID_DATE_RANGE", errObj["code"])
			assert.Empty(t, feeds.ranges)
		})
	}
}

// TestHandler_GetAsteroids_UpstreamError verifies feed failures map to 503.
func TestHandler_GetAsteroids_UpstreamError(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{err: fmt.Errorf("fetch feed: %w", client.ErrRateLimited)})

	req := httptest.NewRequest(http.MethodGet, "/api/asteroids", nil)
	w := httptest.NewRecorder()
	h.GetAsteroids(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	errObj := decodeError(t, strings.NewReader(w.Body.String()))
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", errObj["code"])
}

// TestHandler_ClientCancelNotCountedAsError verifies a canceled request does
// not push the process towards degraded.
func TestHandler_ClientCancelNotCountedAsError(t *testing.T) {
	h, monitor := newTestHandler(&fakeFeeds{err: context.Canceled})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	h.GetDashboardJSON(httptest.NewRecorder(), req)

	_, total := monitor.Tracker().ErrorRate(time.Minute)
	assert.Zero(t, total)
}

// TestHandler_MemoizesAcrossRequests verifies repeated page views for the
// same window reach upstream once.
func TestHandler_MemoizesAcrossRequests(t *testing.T) {
	upstream := &countingClient{feed: sampleFeed()}
	svc := service.NewFeedService(upstream, cache.NewInMemoryCache(), service.Options{
		Clock: clockwork.NewFakeClockAt(testNow),
	})
	h := NewHandler(svc, zap.NewNop(), Options{Jitter: fixedJitter{}})

	for _, sel := range []string{"", "(2026 TX1)", "<script>alert(1)</script>"} {
		req := httptest.NewRequest(http.MethodGet, "/?asteroid="+url.QueryEscape(sel), nil)
		w := httptest.NewRecorder()
		h.GetDashboard(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.EqualValues(t, 1, upstream.calls.Load())
}

// TestHandler_GetHealth verifies the health body and checks.
func TestHandler_GetHealth(t *testing.T) {
	h, _ := newTestHandler(&fakeFeeds{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.GetHealth(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "asteroid-dashboard", body["service"])
	checks, ok := body["checks"].(map[string]interface{})
	require.True(t, ok, "health checks missing")
	assert.Equal(t, "healthy", checks["feedApi"])
}

// TestHandler_GetHealth_ShuttingDown verifies 503 while draining.
func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	h, monitor := newTestHandler(&fakeFeeds{})
	monitor.SetShuttingDown(true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.GetHealth(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"shutting-down"`)
}

// TestHandler_GetHealth_DegradedTransitionLogged verifies a failing feed turns
// health degraded, logs the transition and notifies recovery.
func TestHandler_GetHealth_DegradedTransitionLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	clock := clockwork.NewFakeClockAt(testNow)
	tracker := health.NewTracker(clock)
	monitor := health.NewMonitor(health.Config{DegradedWindow: time.Minute, DegradedErrorPct: 50}, tracker, clock)
	recovery := health.NewRecovery(tracker, func(context.Context) error { return nil }, time.Minute, time.Minute, clock, nil)
	feeds := &fakeFeeds{err: errors.New("HTTP 500")}
	h := NewHandler(feeds, zap.New(core), Options{Jitter: fixedJitter{}, Monitor: monitor, Recovery: recovery})

	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.GetDashboardJSON(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"feedApi":"unhealthy"`)

	entries := logs.FilterMessage("health status transition").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "healthy", entries[0].ContextMap()["previous_status"])
	assert.Equal(t, "degraded", entries[0].ContextMap()["current_status"])
	assert.Equal(t, "error_rate_breach", entries[0].ContextMap()["reason"])
}
