package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/asteroid-dashboard/internal/health"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
)

// RouterConfig holds the middleware collaborators. Limiter and InFlight may be nil.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter
	Tracker        *health.Tracker
	InFlight       *InFlightTracker
	RequestTimeout time.Duration
}

// NewRouter mounts the dashboard, API, health and metrics routes. Only the
// dashboard and API routes are rate limited and deadline bound.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.InFlight == nil {
		cfg.InFlight = &InFlightTracker{}
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	router.Use(InFlightMiddleware(cfg.InFlight))

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	limited := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		if cfg.RequestTimeout > 0 {
			next = TimeoutMiddleware(cfg.RequestTimeout)(next)
		}
		return RateLimitMiddleware(cfg.Limiter, cfg.Tracker)(next)
	}
	router.Handle("/", limited(h.GetDashboard)).Methods(http.MethodGet)
	router.Handle("/api/dashboard", limited(h.GetDashboardJSON)).Methods(http.MethodGet)
	router.Handle("/api/asteroids", limited(h.GetAsteroids)).Methods(http.MethodGet)
	return router
}
