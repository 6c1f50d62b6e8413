package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ValidateFunc probes the feed. It returns nil when the feed is usable again.
type ValidateFunc func(ctx context.Context) error

const attemptTimeout = 10 * time.Second

// Recovery probes the feed on a Fibonacci schedule after the process turns
// degraded. A successful probe clears the error window; running out of
// attempts calls OnExhausted.
type Recovery struct {
	tracker     *Tracker
	validate    ValidateFunc
	initial     time.Duration
	max         time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger
	notify      chan struct{}
	running     atomic.Bool
	OnExhausted func()
}

// NewRecovery builds a Recovery. Delays run initial, 2x, 3x, 5x, ... up to max.
func NewRecovery(tracker *Tracker, validate ValidateFunc, initial, max time.Duration, clock clockwork.Clock, logger *zap.Logger) *Recovery {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{
		tracker:  tracker,
		validate: validate,
		initial:  initial,
		max:      max,
		clock:    clock,
		logger:   logger,
		notify:   make(chan struct{}, 1),
	}
}

// Notify signals that the process is degraded. Non-blocking; repeated calls
// while a recovery run is active are dropped.
func (r *Recovery) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start listens for Notify until ctx is done.
func (r *Recovery) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Run performs one recovery sequence and reports whether the feed recovered.
func (r *Recovery) Run(ctx context.Context) bool {
	delays := fibDelays(r.initial, r.max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-r.clock.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := r.validate(attemptCtx)
		cancel()
		if err == nil {
			r.tracker.ResetErrors()
			r.logger.Info("feed recovered", zap.Int("attempt", i+1))
			return true
		}
		r.logger.Warn("feed recovery attempt failed",
			zap.Int("attempt", i+1),
			zap.Int("attempts", len(delays)),
			zap.Error(err))
	}
	if len(delays) > 0 && r.OnExhausted != nil {
		r.OnExhausted()
	}
	return false
}

// fibDelays returns initial * (1, 2, 3, 5, 8, ...) while the delay is <= max.
func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			break
		}
		out = append(out, d)
	}
	return out
}
