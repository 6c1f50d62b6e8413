package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/asteroid-dashboard/internal/dashboard"
	"github.com/kjstillabower/asteroid-dashboard/internal/health"
	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
	"github.com/kjstillabower/asteroid-dashboard/internal/validation"
	"github.com/kjstillabower/asteroid-dashboard/web"
)

const serviceName = "asteroid-dashboard"

var pageTemplate = template.Must(
	template.New("dashboard.html").
		Funcs(template.FuncMap{"fixed2": func(f float64) string { return fmt.Sprintf("%.2f", f) }}).
		ParseFS(web.Content, "dashboard.html"),
)

// FeedSource supplies memoized feeds and the current dashboard window.
type FeedSource interface {
	CurrentWindow() models.DateRange
	GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error)
}

// Options configures optional Handler collaborators. Zero values take defaults.
type Options struct {
	Jitter             dashboard.Jitter
	Monitor            *health.Monitor
	Recovery           *health.Recovery
	SelectionMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	feeds            FeedSource
	jitter           dashboard.Jitter
	monitor          *health.Monitor
	recovery         *health.Recovery
	selectionMaxLen  int
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. Without a Monitor, health reflects only
// the shutdown flag of a private monitor.
func NewHandler(feeds FeedSource, logger *zap.Logger, opts Options) *Handler {
	if opts.Jitter == nil {
		opts.Jitter = dashboard.NewRandomJitter(time.Now().UnixNano())
	}
	if opts.Monitor == nil {
		opts.Monitor = health.NewMonitor(health.Config{}, health.NewTracker(nil), nil)
	}
	if opts.SelectionMaxLength <= 0 {
		opts.SelectionMaxLength = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		feeds:           feeds,
		jitter:          opts.Jitter,
		monitor:         opts.Monitor,
		recovery:        opts.Recovery,
		selectionMaxLen: opts.SelectionMaxLength,
		logger:          logger,
	}
}

// pageData is the template model for GET /.
type pageData struct {
	View         dashboard.View
	PlotTitle    string
	CaptionTitle string
}

// GetDashboard handles GET /. The page always renders with 200; fetch
// failures show the shared warning.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	selection, err := validation.ValidateSelection(r.URL.Query().Get("asteroid"), h.selectionMaxLen)
	if err != nil {
		h.requestLogger(r).Debug("ignoring invalid selection", zap.Error(err))
		selection = ""
	}
	view := h.buildView(r, selection)

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{
		View:         view,
		PlotTitle:    dashboard.PlotTitle,
		CaptionTitle: dashboard.CaptionTitle,
	}); err != nil {
		h.requestLogger(r).Error("render dashboard", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GetDashboardJSON handles GET /api/dashboard?asteroid=.
func (h *Handler) GetDashboardJSON(w http.ResponseWriter, r *http.Request) {
	selection, err := validation.ValidateSelection(r.URL.Query().Get("asteroid"), h.selectionMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ASTEROID", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, h.buildView(r, selection))
}

// GetAsteroids handles GET /api/asteroids?start_date=&end_date=.
func (h *Handler) GetAsteroids(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dr, err := validation.ValidateDateRange(q.Get("start_date"), q.Get("end_date"), h.feeds.CurrentWindow())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error())
		return
	}
	feed, err := h.fetch(r.Context(), dr)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, feed)
}

// buildView fetches the current window and computes the page model.
func (h *Handler) buildView(r *http.Request, selection string) dashboard.View {
	window := h.feeds.CurrentWindow()
	feed, err := h.fetch(r.Context(), window)
	if err != nil {
		h.requestLogger(r).Warn("feed unavailable; rendering empty dashboard",
			zap.String("range", window.Key()),
			zap.Error(err))
	}
	view := dashboard.Build(dashboard.Input{
		Range:     window,
		Feed:      feed,
		FetchErr:  err,
		Selection: selection,
	}, h.jitter)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case view.Empty():
		outcome = "empty"
	}
	observability.DashboardRendersTotal.WithLabelValues(outcome).Inc()
	return view
}

// fetch records the outcome for health evaluation. Client cancellations are
// not counted against the feed.
func (h *Handler) fetch(ctx context.Context, dr models.DateRange) (models.Feed, error) {
	feed, err := h.feeds.GetFeed(ctx, dr)
	tracker := h.monitor.Tracker()
	switch {
	case err == nil:
		tracker.RecordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		tracker.RecordError()
	}
	return feed, err
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.Evaluate()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	if result.Status == health.StatusDegraded && h.recovery != nil {
		h.recovery.Notify()
	}

	writeJSON(w, r, result.StatusCode, map[string]interface{}{
		"status":    result.Status,
		"service":   serviceName,
		"version":   "dev",
		"checks":    result.Checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

// writeJSON encodes v before writing the status so an unencodable value
// becomes a 500 error body instead of an empty 200.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		if logger := observability.LoggerFromContext(r.Context()); logger != nil {
			logger.Error("encode response", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// writeError writes the standard error body with the request correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a feed failure to 503. The cause is logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch asteroid data")
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
