package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/asteroid-dashboard/internal/client"
)

// DemoAPIKey is NASA's shared, heavily rate-limited public key.
const DemoAPIKey = "DEMO_KEY"

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	NASAAPIKey      string
	FeedAPIURL      string
	FeedAPITimeout  time.Duration
	WindowDays      int
	ValidateOnStart bool

	RequestTimeout     time.Duration
	SelectionMaxLength int

	CacheBackend string // "in_memory" or "memcached"
	// CacheTTL of 0 keeps feeds for the process lifetime.
	CacheTTL time.Duration
	// CacheMaxEntries bounds the in-memory backend; one entry per date range.
	CacheMaxEntries int

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	DegradedRetryInitial   time.Duration
	DegradedRetryMax       time.Duration

	WarmCache    bool
	WarmInterval time.Duration

	DeterministicJitter bool
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	FeedAPI struct {
		URL             string `yaml:"url"`
		Timeout         string `yaml:"timeout"`
		WindowDays      int    `yaml:"window_days"`
		ValidateOnStart *bool  `yaml:"validate_on_start"`
	} `yaml:"feed_api"`

	Request struct {
		Timeout            string `yaml:"timeout"`
		SelectionMaxLength int    `yaml:"selection_max_length"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"inflight_timeout"`
		InFlightCheckInterval string `yaml:"inflight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
		DegradedRetryInitial   string `yaml:"degraded_retry_initial"`
		DegradedRetryMax       string `yaml:"degraded_retry_max"`
	} `yaml:"lifecycle"`

	Warming struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"warming"`

	Impact struct {
		DeterministicJitter bool `yaml:"deterministic_jitter"`
	} `yaml:"impact"`
}

type secretsFile struct {
	NASAAPIKey string `yaml:"nasa_api_key"`
}

// Load reads configuration relative to the working directory. Call from the
// project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFromDir(cwd)
}

// LoadFromDir reads dir/config/{ENV_NAME}.yaml (default dev) and
// dir/config/secrets.yaml. The API key comes from NASA_API_KEY, then the
// secrets file, then DEMO_KEY.
func LoadFromDir(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.NASAAPIKey, err = loadAPIKey(dir)
	if err != nil {
		return nil, err
	}

	cfg.FeedAPIURL = fc.FeedAPI.URL
	if cfg.FeedAPIURL == "" {
		cfg.FeedAPIURL = client.DefaultFeedURL
	}
	cfg.FeedAPITimeout = parseDurationOrZero(fc.FeedAPI.Timeout, 10*time.Second)
	cfg.WindowDays = fc.FeedAPI.WindowDays
	if cfg.WindowDays == 0 {
		cfg.WindowDays = 7
	}
	cfg.ValidateOnStart = fc.FeedAPI.ValidateOnStart == nil || *fc.FeedAPI.ValidateOnStart

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.SelectionMaxLength = fc.Request.SelectionMaxLength
	if cfg.SelectionMaxLength <= 0 {
		cfg.SelectionMaxLength = 100
	}

	cfg.CacheTTL = parseDurationOrZero(fc.Cache.TTL, 0)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = 64
	}
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Reliability.Coalesce.Enabled == nil || *fc.Reliability.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalesce.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 1
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedRetryInitial = parseDuration(fc.Lifecycle.DegradedRetryInitial, 1*time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Lifecycle.DegradedRetryMax, 20*time.Minute)

	cfg.WarmCache = fc.Warming.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 0)

	cfg.DeterministicJitter = fc.Impact.DeterministicJitter

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKey resolves the NeoWs key: NASA_API_KEY, then secrets.yaml, then DEMO_KEY.
func loadAPIKey(dir string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("NASA_API_KEY")); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(dir, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DemoAPIKey, nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	if key := strings.TrimSpace(sec.NASAAPIKey); key != "" {
		return key, nil
	}
	return DemoAPIKey, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks loaded values. RequestTimeout is raised above FeedAPITimeout
// when needed so the handler deadline never cuts the upstream call short.
func validate(cfg *Config) error {
	if cfg.FeedAPITimeout <= 0 {
		return fmt.Errorf("feed_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.FeedAPITimeout {
		cfg.RequestTimeout = cfg.FeedAPITimeout + time.Second
	}
	if cfg.WindowDays < 1 || cfg.WindowDays > 7 {
		return fmt.Errorf("feed_api.window_days must be between 1 and 7, got %d", cfg.WindowDays)
	}
	if cfg.CacheTTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", cfg.CacheTTL)
	}
	if cfg.CacheMaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", cfg.CacheMaxEntries)
	}
	if cfg.WarmInterval < 0 {
		return fmt.Errorf("warming.interval must not be negative, got %s", cfg.WarmInterval)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
