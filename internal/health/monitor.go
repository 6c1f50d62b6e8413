package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Status values reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusShuttingDown = "shutting-down"
	StatusOverloaded   = "overloaded"
	StatusIdle         = "idle"
	StatusDegraded     = "degraded"
)

// Config holds lifecycle thresholds. A zero window disables its check.
type Config struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int // 0 when the rate limiter is disabled
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
}

// Result is one health evaluation.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
	Checks     map[string]string
}

// Monitor evaluates process health from the tracker, the shutdown flag and
// optional feed/cache probes.
type Monitor struct {
	cfg          Config
	tracker      *Tracker
	clock        clockwork.Clock
	startedAt    time.Time
	shuttingDown atomic.Bool

	// CircuitOpen reports whether the feed circuit breaker is open. Optional.
	CircuitOpen func() bool
	// CachePing checks memcached reachability. Optional.
	CachePing func() error
}

// NewMonitor starts the lifespan clock now.
func NewMonitor(cfg Config, tracker *Tracker, clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{cfg: cfg, tracker: tracker, clock: clock, startedAt: clock.Now()}
}

// Tracker returns the outcome tracker the monitor reads.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// SetShuttingDown marks the process as draining. Call on SIGTERM/SIGINT.
func (m *Monitor) SetShuttingDown(v bool) {
	m.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (m *Monitor) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Evaluate computes the status. Order: shutting-down > overloaded > idle >
// degraded > healthy; the first condition that holds wins.
func (m *Monitor) Evaluate() Result {
	r := m.status()
	r.Checks = map[string]string{"feedApi": "healthy"}
	if r.Status == StatusDegraded {
		r.Checks["feedApi"] = "unhealthy"
	}
	if m.CachePing != nil {
		if m.CachePing() == nil {
			r.Checks["cache"] = "healthy"
		} else {
			r.Checks["cache"] = "unhealthy"
		}
	}
	return r
}

func (m *Monitor) status() Result {
	if m.IsShuttingDown() {
		return Result{Status: StatusShuttingDown, StatusCode: http.StatusServiceUnavailable, Reason: "signal"}
	}
	if m.overloaded() {
		return Result{Status: StatusOverloaded, StatusCode: http.StatusServiceUnavailable, Reason: "overload_threshold"}
	}
	if m.idle() {
		return Result{Status: StatusIdle, StatusCode: http.StatusOK, Reason: "low_traffic"}
	}
	if m.CircuitOpen != nil && m.CircuitOpen() {
		return Result{Status: StatusDegraded, StatusCode: http.StatusServiceUnavailable, Reason: "circuit_open"}
	}
	if m.errorRateBreached() {
		return Result{Status: StatusDegraded, StatusCode: http.StatusServiceUnavailable, Reason: "error_rate_breach"}
	}
	return Result{Status: StatusHealthy, StatusCode: http.StatusOK}
}

// OverloadThreshold is the request count over OverloadWindow above which the
// process reports overloaded; 0 when the check is disabled.
func (m *Monitor) OverloadThreshold() float64 {
	if m.cfg.RateLimitRPS <= 0 || m.cfg.OverloadWindow <= 0 || m.cfg.OverloadThresholdPct <= 0 {
		return 0
	}
	return float64(m.cfg.RateLimitRPS) * m.cfg.OverloadWindow.Seconds() * float64(m.cfg.OverloadThresholdPct) / 100
}

func (m *Monitor) overloaded() bool {
	threshold := m.OverloadThreshold()
	if threshold <= 0 {
		return false
	}
	return float64(m.tracker.RequestCount(m.cfg.OverloadWindow)) > threshold
}

func (m *Monitor) idle() bool {
	if m.cfg.IdleWindow <= 0 || m.cfg.MinimumLifespan <= 0 {
		return false
	}
	if m.clock.Since(m.startedAt) < m.cfg.MinimumLifespan {
		return false
	}
	want := float64(m.cfg.IdleThresholdReqPerMin) * m.cfg.IdleWindow.Minutes()
	return float64(m.tracker.ServedCount(m.cfg.IdleWindow)) < want
}

func (m *Monitor) errorRateBreached() bool {
	if m.cfg.DegradedWindow <= 0 || m.cfg.DegradedErrorPct <= 0 {
		return false
	}
	errors, total := m.tracker.ErrorRate(m.cfg.DegradedWindow)
	if total == 0 {
		return false
	}
	return float64(errors)*100/float64(total) >= float64(m.cfg.DegradedErrorPct)
}
