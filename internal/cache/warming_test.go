package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
)

type mockFeedFetcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockFeedFetcher) GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error) {
	m.mu.Lock()
	m.calls = append(m.calls, r.Key())
	m.mu.Unlock()
	if m.err != nil {
		return models.Feed{}, m.err
	}
	return models.Feed{StartDate: r.StartDate(), EndDate: r.EndDate()}, nil
}

func week(day int) models.DateRange {
	return models.NewDateRange(time.Date(2026, 10, day, 0, 0, 0, 0, time.UTC), 7)
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockFeedFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	if err := warmer.Warm(context.Background(), []models.DateRange{week(15), week(22)}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", len(fetcher.calls))
	}
}

func TestCacheWarmer_Warm_EmptyRanges(t *testing.T) {
	warmer := NewCacheWarmer(&mockFeedFetcher{}, nil)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	apiDown := errors.New("api down")
	warmer := NewCacheWarmer(&mockFeedFetcher{err: apiDown}, nil)

	err := warmer.Warm(context.Background(), []models.DateRange{week(15)})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, apiDown) {
		t.Errorf("Warm() error = %v, want wrapped api down", err)
	}
	if !strings.Contains(err.Error(), "2026-10-15_2026-10-22") {
		t.Errorf("Warm() error = %q, want range key in message", err)
	}
}

func (m *mockFeedFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func waitForCalls(t *testing.T, m *mockFeedFetcher, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for m.callCount() < want {
		select {
		case <-deadline:
			t.Fatalf("fetch calls = %d, want %d", m.callCount(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestCacheWarmer_WarmPeriodic_WaitsForFirstTick verifies that the periodic
// loop does not repeat the start-up warm and follows the rolling window.
func TestCacheWarmer_WarmPeriodic_WaitsForFirstTick(t *testing.T) {
	fetcher := &mockFeedFetcher{}
	clock := clockwork.NewFakeClock()
	warmer := NewCacheWarmerWithClock(fetcher, nil, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var day atomic.Int32
	day.Store(15)
	next := func() []models.DateRange { return []models.DateRange{week(int(day.Load()))} }

	done := make(chan error, 1)
	go func() { done <- warmer.WarmPeriodic(ctx, next, time.Hour) }()

	blockCtx, blockCancel := context.WithTimeout(ctx, 2*time.Second)
	defer blockCancel()
	if err := clock.BlockUntilContext(blockCtx, 1); err != nil {
		t.Fatalf("ticker not started: %v", err)
	}
	if n := fetcher.callCount(); n != 0 {
		t.Fatalf("fetch calls before first tick = %d, want 0", n)
	}

	clock.Advance(time.Hour)
	waitForCalls(t, fetcher, 1)
	day.Store(16)
	clock.Advance(time.Hour)
	waitForCalls(t, fetcher, 2)

	fetcher.mu.Lock()
	got := append([]string(nil), fetcher.calls...)
	fetcher.mu.Unlock()
	if got[0] != week(15).Key() || got[1] != week(16).Key() {
		t.Errorf("warmed ranges = %v, want %s then %s", got, week(15).Key(), week(16).Key())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WarmPeriodic() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WarmPeriodic did not return after cancel")
	}
}
