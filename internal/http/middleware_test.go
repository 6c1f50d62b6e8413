package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/asteroid-dashboard/internal/health"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
)

func newTestRouter(feeds FeedSource, cfg RouterConfig) (http.Handler, *health.Monitor) {
	h, monitor := newTestHandler(feeds)
	if cfg.Tracker == nil {
		cfg.Tracker = monitor.Tracker()
	}
	return NewRouter(h, cfg), monitor
}

func TestRouter_DashboardThroughChain(t *testing.T) {
	router, _ := newTestRouter(&fakeFeeds{feed: sampleFeed()}, RouterConfig{RequestTimeout: time.Second})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	_, err := uuid.Parse(w.Header().Get(correlationHeader))
	assert.NoError(t, err, "generated correlation ID should be a UUID")
}

func TestRouter_Routes(t *testing.T) {
	router, _ := newTestRouter(&fakeFeeds{feed: sampleFeed()}, RouterConfig{})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/api/dashboard", http.StatusOK},
		{http.MethodGet, "/api/asteroids", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/api/dashboard", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestCorrelationIDMiddleware_Propagated(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var seen string
	handler := CorrelationIDMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context()).Info("inside")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(correlationHeader, "client-provided-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "client-provided-id", w.Header().Get(correlationHeader))
	assert.Equal(t, "client-provided-id", seen)
	entries := logs.FilterMessage("inside").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "client-provided-id", entries[0].ContextMap()["correlation_id"])
}

func TestCorrelationIDMiddleware_OversizedIDReplaced(t *testing.T) {
	handler := CorrelationIDMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(correlationHeader, strings.Repeat("a", 200))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	got := w.Header().Get(correlationHeader)
	assert.NotEqual(t, strings.Repeat("a", 200), got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestRateLimitMiddleware_DeniesAndRecords(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	router, monitor := newTestRouter(&fakeFeeds{feed: sampleFeed()}, RouterConfig{Limiter: limiter})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	var body map[string]map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body["error"]["code"])
	assert.NotEmpty(t, body["error"]["requestId"])
	assert.Equal(t, 1, monitor.Tracker().DenialCount(time.Minute))

	hw := httptest.NewRecorder()
	router.ServeHTTP(hw, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, hw.Code, "health is not rate limited")
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	handler := RateLimitMiddleware(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(50*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	start := time.Now()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.True(t, ok, "request context should carry a deadline")
	assert.WithinDuration(t, start.Add(50*time.Millisecond), deadline, 40*time.Millisecond)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/asteroids", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetRoute_BoundedLabels(t *testing.T) {
	tests := map[string]string{
		"/":               "/",
		"/health":         "/health",
		"/api/dashboard":  "/api/dashboard",
		"/api/asteroids":  "/api/asteroids",
		"/wp-admin/x.php": "other",
	}
	for path, want := range tests {
		assert.Equal(t, want, getRoute(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}
	assert.Equal(t, "5xx", statusCodeString(503))
}

func TestInFlightMiddleware_CountsDuringRequest(t *testing.T) {
	tracker := &InFlightTracker{}
	var during int64
	handler := InFlightMiddleware(tracker)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		during = tracker.Count()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.EqualValues(t, 1, during)
	assert.EqualValues(t, 0, tracker.Count())
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tracker.WaitForZero(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	tracker.Decrement()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, tracker.WaitForZero(ctx, 5*time.Millisecond), context.Canceled)
}

func TestRouter_OverloadReportedOnHealth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	tracker := health.NewTracker(clock)
	monitor := health.NewMonitor(health.Config{
		OverloadWindow:       time.Minute,
		OverloadThresholdPct: 1,
		RateLimitRPS:         1, // threshold 0.6 requests per minute
	}, tracker, clock)
	h := NewHandler(&fakeFeeds{feed: sampleFeed()}, zap.NewNop(), Options{Monitor: monitor})
	router := NewRouter(h, RouterConfig{Limiter: rate.NewLimiter(rate.Limit(1), 1), Tracker: tracker})

	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/asteroids", nil))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"overloaded"`)
}
