package health

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds how long outcomes are kept; windows longer than this see
// truncated counts.
const retention = 30 * time.Minute

// Tracker keeps sliding windows of request outcomes. It is the single source
// for overload (RequestCount, DenialCount), idle (ServedCount) and degraded
// (ErrorRate) evaluation.
type Tracker struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker on clock; nil means the real clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock}
}

// RecordSuccess records a request served from a successful feed fetch.
func (t *Tracker) RecordSuccess() {
	t.record(&t.successTimes)
}

// RecordError records a request whose feed fetch failed.
func (t *Tracker) RecordError() {
	t.record(&t.errorTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.record(&t.deniedTimes)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns successes, errors and denials within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return countSince(t.successTimes, cutoff) +
		countSince(t.errorTimes, cutoff) +
		countSince(t.deniedTimes, cutoff)
}

// ServedCount returns successes and errors within the window; denials excluded.
func (t *Tracker) ServedCount(window time.Duration) int {
	_, total := t.ErrorRate(window)
	return total
}

// DenialCount returns rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.clock.Now().Add(-window))
}

// ErrorRate returns (errors, total) within the window, where total counts
// successes and errors only.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	errors = countSince(t.errorTimes, cutoff)
	return errors, errors + countSince(t.successTimes, cutoff)
}

// ResetErrors clears recorded errors and successes; used when recovery
// confirms the feed is reachable again. Denials are kept.
func (t *Tracker) ResetErrors() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
}

// Reset clears every recorded outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops outcomes older than retention. Slices are appended in
// clock order, so the stale entries form a prefix.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}
