package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
)

// FeedFetcher is implemented by the service layer. Fetching through it
// populates the memo cache; it keeps this package free of a service import.
type FeedFetcher interface {
	GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error)
}

// CacheWarmer prefetches feeds so the first page view does not wait on NeoWs.
type CacheWarmer struct {
	fetcher FeedFetcher
	logger  *zap.Logger
	clock   clockwork.Clock
}

// NewCacheWarmer creates a CacheWarmer on the real clock. logger may be nil.
func NewCacheWarmer(fetcher FeedFetcher, logger *zap.Logger) *CacheWarmer {
	return NewCacheWarmerWithClock(fetcher, logger, clockwork.NewRealClock())
}

// NewCacheWarmerWithClock creates a CacheWarmer whose periodic ticker runs on clock.
func NewCacheWarmerWithClock(fetcher FeedFetcher, logger *zap.Logger, clock clockwork.Clock) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger, clock: clock}
}

// Warm fetches every range concurrently. Returns the joined errors of failed ranges.
func (w *CacheWarmer) Warm(ctx context.Context, ranges []models.DateRange) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("ranges", len(ranges)))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(ranges))
	for _, r := range ranges {
		wg.Add(1)
		go func(r models.DateRange) {
			defer wg.Done()
			if _, err := w.fetcher.GetFeed(ctx, r); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", r.Key(), err)
			}
		}(r)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("ranges", len(ranges)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic warms the ranges returned by next on every interval until ctx
// is done. The first run is one interval after the call; callers warm once
// themselves at start-up. next is re-evaluated each run so a rolling window
// follows the calendar.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, next func() []models.DateRange, interval time.Duration) error {
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.Warm(ctx, next()); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
