package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/asteroid-dashboard/internal/cache"
	"github.com/kjstillabower/asteroid-dashboard/internal/client"
	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
)

// DefaultWindowDays is the dashboard window: today through today+7.
const DefaultWindowDays = 7

// Options configures a FeedService. Zero values take defaults.
type Options struct {
	// TTL bounds memoized entries; 0 keeps them for the process lifetime.
	TTL             time.Duration
	WindowDays      int
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	Clock           clockwork.Clock
}

// FeedService memoizes feed fetches by date range (cache-aside) and computes
// the current dashboard window.
type FeedService struct {
	client          client.FeedClient
	cache           cache.Cache
	ttl             time.Duration
	windowDays      int
	clock           clockwork.Clock
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewFeedService wires a client and an injected cache.
func NewFeedService(client client.FeedClient, cache cache.Cache, opts Options) *FeedService {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	var coalescer *requestCoalescer
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &FeedService{
		client:          client,
		cache:           cache,
		ttl:             opts.TTL,
		windowDays:      opts.WindowDays,
		clock:           opts.Clock,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// CurrentWindow returns today through today+WindowDays on the service clock.
func (s *FeedService) CurrentWindow() models.DateRange {
	return models.NewDateRange(s.clock.Now(), s.windowDays)
}

// GetFeed returns the memoized feed for r, fetching upstream on a miss.
// Only successful fetches are stored; cache errors fall through to upstream.
func (s *FeedService) GetFeed(ctx context.Context, r models.DateRange) (models.Feed, error) {
	key := r.Key()
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		if logger != nil {
			logger.Warn("cache get failed", zap.String("range", key), zap.Error(err))
		}
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("feed").Inc()
		if logger != nil {
			logger.Debug("feed served", zap.String("range", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("feed").Inc()

	if s.stampedeTracker.RecordMiss(key) > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}
	defer s.stampedeTracker.Resolve(key)

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("range", key))
	}

	var feed models.Feed
	var upstreamErr error
	if s.coalescer != nil {
		waitStart := time.Now()
		var shared bool
		feed, shared, upstreamErr = s.coalescer.GetOrDo(ctx, key, func(fetchCtx context.Context) (models.Feed, error) {
			return s.client.GetFeed(fetchCtx, r)
		})
		if shared {
			observability.RequestCoalescingHitsTotal.Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
	} else {
		feed, upstreamErr = s.client.GetFeed(ctx, r)
	}
	if upstreamErr != nil {
		observability.FeedAPIErrorsTotal.WithLabelValues(string(client.CategorizeError(upstreamErr))).Inc()
		return models.Feed{}, fmt.Errorf("fetch feed %s: %w", key, upstreamErr)
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, feed, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("cache set failed", zap.String("range", key), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	if logger != nil {
		logger.Debug("feed served",
			zap.String("range", key),
			zap.Bool("cached", false),
			zap.Int("asteroids", len(feed.Asteroids)),
			zap.Int("skipped", feed.Skipped),
			zap.Duration("duration", time.Since(start)))
	}
	return feed, nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
