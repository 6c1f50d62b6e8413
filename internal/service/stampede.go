package service

import "sync"

// stampedeTracker counts concurrent cache misses per key. A count above one
// means several requests missed the same date range at once.
type stampedeTracker struct {
	mu           sync.Mutex
	activeMisses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{
		activeMisses: make(map[string]int),
	}
}

// RecordMiss increments and returns the concurrent miss count for key.
// Callers defer Resolve(key).
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activeMisses[key]++
	return st.activeMisses[key]
}

// Resolve marks one miss for key as finished.
func (st *stampedeTracker) Resolve(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.activeMisses[key] <= 1 {
		delete(st.activeMisses, key)
		return
	}
	st.activeMisses[key]--
}
