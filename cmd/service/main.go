package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/asteroid-dashboard/internal/cache"
	"github.com/kjstillabower/asteroid-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/asteroid-dashboard/internal/client"
	"github.com/kjstillabower/asteroid-dashboard/internal/config"
	"github.com/kjstillabower/asteroid-dashboard/internal/dashboard"
	"github.com/kjstillabower/asteroid-dashboard/internal/health"
	httphandler "github.com/kjstillabower/asteroid-dashboard/internal/http"
	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
	"github.com/kjstillabower/asteroid-dashboard/internal/service"
)

const feedComponent = "feed_api"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.NASAAPIKey == config.DemoAPIKey {
		logger.Warn("using NASA DEMO_KEY; set NASA_API_KEY for a higher rate limit")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	feedClient, err := client.NewNeoWsClientWithRetry(
		cfg.NASAAPIKey,
		cfg.FeedAPIURL,
		cfg.FeedAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("feed client", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Clock:            clock,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(feedComponent, from.String(), to.String(), int(to))
				logger.Info("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		feedClient.SetCircuitBreaker(breaker)
		observability.CircuitBreakerState.WithLabelValues(feedComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	if cfg.ValidateOnStart {
		validateCtx, cancel := context.WithTimeout(ctx, cfg.FeedAPITimeout)
		err := feedClient.ValidateAPIKey(validateCtx)
		cancel()
		switch {
		case errors.Is(err, client.ErrInvalidAPIKey):
			logger.Fatal("NASA API key rejected", zap.Error(err))
		case err != nil:
			logger.Warn("feed validation failed; continuing", zap.Error(err))
		default:
			logger.Info("feed validated")
		}
	}

	var feedCache cache.Cache
	var memcache *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcache = mc
		feedCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		feedCache = cache.NewInMemoryCacheWithClock(clock, cfg.CacheMaxEntries)
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	feedService := service.NewFeedService(feedClient, feedCache, service.Options{
		TTL:             cfg.CacheTTL,
		WindowDays:      cfg.WindowDays,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Clock:           clock,
	})

	tracker := health.NewTracker(clock)
	monitor := health.NewMonitor(health.Config{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
	}, tracker, clock)
	if breaker != nil {
		monitor.CircuitOpen = func() bool { return breaker.State() == circuitbreaker.StateOpen }
	}
	if memcache != nil {
		monitor.CachePing = memcache.Ping
	}

	recovery := health.NewRecovery(tracker, feedClient.ValidateAPIKey, cfg.DegradedRetryInitial, cfg.DegradedRetryMax, clock, logger)
	recovery.OnExhausted = func() {
		logger.Error("feed recovery exhausted; marking shutting-down")
		monitor.SetShuttingDown(true)
	}
	recovery.Start(ctx)

	var jitter dashboard.Jitter = dashboard.NewRandomJitter(time.Now().UnixNano())
	if cfg.DeterministicJitter {
		jitter = dashboard.SeededJitter{}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(
		func() int { return tracker.RequestCount(cfg.OverloadWindow) },
		func() int { return tracker.DenialCount(cfg.OverloadWindow) },
	)

	if cfg.WarmCache {
		warmer := cache.NewCacheWarmerWithClock(feedService, logger, clock)
		currentWindow := func() []models.DateRange { return []models.DateRange{feedService.CurrentWindow()} }
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx, currentWindow()); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, currentWindow, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	handler := httphandler.NewHandler(feedService, logger, httphandler.Options{
		Jitter:             jitter,
		Monitor:            monitor,
		Recovery:           recovery,
		SelectionMaxLength: cfg.SelectionMaxLength,
	})
	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		Tracker:        tracker,
		InFlight:       inFlight,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	remaining := inFlight.Count()
	logger.Info("waiting for in-flight requests", zap.Int64("count", remaining))
	observability.RecordShutdownInFlight(remaining)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcache != nil {
		if err := memcache.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
