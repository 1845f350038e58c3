package quotaguard

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ambiyansyah-risyal/quotaguard/internal/backoff"
	"github.com/ambiyansyah-risyal/quotaguard/internal/singleflight"
)

// BackoffStrategy selects how the drain loop waits on an exhausted window.
type BackoffStrategy int

const (
	// FixedBackoff waits DrainConfig.RateLimitBackoff every time.
	FixedBackoff BackoffStrategy = iota
	// ExponentialJitter doubles the wait per consecutive miss, with jitter.
	ExponentialJitter
	// DecorrelatedJitter picks a random wait between the base and three
	// times the previous wait.
	DecorrelatedJitter
)

// String returns the strategy name used in configuration files.
func (b BackoffStrategy) String() string {
	switch b {
	case FixedBackoff:
		return "fixed"
	case ExponentialJitter:
		return "exponential"
	case DecorrelatedJitter:
		return "decorrelated"
	default:
		return "unknown"
	}
}

// ParseBackoffStrategy maps a configuration name to a strategy.
func ParseBackoffStrategy(name string) (BackoffStrategy, error) {
	switch name {
	case "", "fixed":
		return FixedBackoff, nil
	case "exponential":
		return ExponentialJitter, nil
	case "decorrelated":
		return DecorrelatedJitter, nil
	default:
		return FixedBackoff, fmt.Errorf("unknown backoff strategy %q", name)
	}
}

// WithProfile registers or replaces the limits for one API.
func WithProfile(profile APIProfile) Option {
	return func(g *Governor) {
		g.profiles.Register(profile)
	}
}

// WithProfiles registers several API profiles.
func WithProfiles(profiles ...APIProfile) Option {
	return func(g *Governor) {
		for _, p := range profiles {
			g.profiles.Register(p)
		}
	}
}

// WithClock sets the clock used for windows, TTLs, cooldowns and drain
// timing. Tests pass a clockwork fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(g *Governor) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithCacheSize bounds the number of cached results.
func WithCacheSize(size int) Option {
	return func(g *Governor) {
		g.cacheSize = size
	}
}

// WithCircuitBreaker sets the circuit breaker configuration shared by every
// API. Zero fields keep the defaults.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(g *Governor) {
		g.breakerConfig = config
	}
}

// WithDrainConfig sets the drain loop timings. Zero fields keep the
// defaults.
func WithDrainConfig(config DrainConfig) Option {
	return func(g *Governor) {
		defaults := DefaultDrainConfig()
		if config.RateLimitBackoff == 0 {
			config.RateLimitBackoff = defaults.RateLimitBackoff
		}
		if config.MaxRateLimitBackoff == 0 {
			config.MaxRateLimitBackoff = defaults.MaxRateLimitBackoff
		}
		if config.InterRequestDelay == 0 {
			config.InterRequestDelay = defaults.InterRequestDelay
		}
		if config.MaxDuration == 0 {
			config.MaxDuration = defaults.MaxDuration
		}
		g.drainConfig = config
	}
}

// WithDrainBackoff selects the drain wait strategy.
func WithDrainBackoff(strategy BackoffStrategy) Option {
	return func(g *Governor) {
		switch strategy {
		case ExponentialJitter:
			g.drainBackoff = backoff.ExponentialJitterStrategy{}
		case DecorrelatedJitter:
			g.drainBackoff = backoff.DecorrelatedJitterStrategy{}
		default:
			g.drainBackoff = backoff.FixedStrategy{}
		}
	}
}

// WithQuotaStore sets where the daily quota flag is persisted.
func WithQuotaStore(store QuotaStore) Option {
	return func(g *Governor) {
		g.quotaStore = store
	}
}

// WithQuotaPhrases replaces the error phrases that mark a daily quota error.
func WithQuotaPhrases(phrases ...string) Option {
	return func(g *Governor) {
		g.quotaPhrases = phrases
	}
}

// WithQuotaResetAfter sets how long the quota flag stays set.
func WithQuotaResetAfter(d time.Duration) Option {
	return func(g *Governor) {
		g.quotaResetAfter = d
	}
}

// WithDeduplication collapses concurrent calls with the same cache key into
// a single execution.
func WithDeduplication() Option {
	return func(g *Governor) {
		g.dedup = singleflight.New()
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(g *Governor) {
		g.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on registry.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(g *Governor) {
		g.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(g *Governor) {
		g.metrics = collector
	}
}

// WithLogger sets the logger. Warnings and errors are always written to it;
// debug lines only when debug logging is enabled.
func WithLogger(logger Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

// WithZapLogger sets a zap logger.
func WithZapLogger(logger *zap.Logger) Option {
	return func(g *Governor) {
		g.logger = NewZapLogger(logger)
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(g *Governor) {
		if g.debug == nil {
			g.debug = DefaultDebugConfig()
		}
		g.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(g *Governor) {
		g.debug = config
	}
}

// WithSimpleLogger enables debug logging with a console logger
func WithSimpleLogger() Option {
	return func(g *Governor) {
		if g.debug == nil {
			g.debug = DefaultDebugConfig()
		}
		g.debug.Enabled = true
		g.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(g *Governor) {
		if g.debug == nil {
			g.debug = DefaultDebugConfig()
		}
		g.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the governor configuration and returns an
// error listing every problem found.
func (g *Governor) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, g.validateProfiles()...)
	errors = append(errors, g.validateCacheConfig()...)
	errors = append(errors, g.validateCircuitBreakerConfig()...)
	errors = append(errors, g.validateDrainConfig()...)
	errors = append(errors, g.validateQuotaConfig()...)
	errors = append(errors, g.validateDebugConfig()...)

	if len(errors) > 0 {
		return &GovernorError{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errors),
			Timestamp: g.clock.Now(),
		}
	}

	return nil
}

func (g *Governor) validateProfiles() []string {
	var errors []string

	for _, name := range g.profiles.Names() {
		p, _ := g.profiles.Get(name)
		if name == "" {
			errors = append(errors, "profile name cannot be empty")
		}
		if p.MaxRequests <= 0 {
			errors = append(errors, fmt.Sprintf("profile %s: MaxRequests must be positive", name))
		}
		if p.Window <= 0 {
			errors = append(errors, fmt.Sprintf("profile %s: Window must be positive", name))
		}
		if p.CacheDuration < 0 {
			errors = append(errors, fmt.Sprintf("profile %s: CacheDuration must be non-negative", name))
		}
	}

	return errors
}

func (g *Governor) validateCacheConfig() []string {
	var errors []string

	if g.cacheSize <= 0 {
		errors = append(errors, "cacheSize must be positive")
	}

	return errors
}

func (g *Governor) validateCircuitBreakerConfig() []string {
	var errors []string

	if g.breakerConfig.FailureThreshold < 0 {
		errors = append(errors, "circuitBreaker FailureThreshold must be non-negative")
	}
	if g.breakerConfig.RecoveryTimeout < 0 {
		errors = append(errors, "circuitBreaker RecoveryTimeout must be non-negative")
	}

	return errors
}

func (g *Governor) validateDrainConfig() []string {
	var errors []string

	c := g.drainConfig
	if c.RateLimitBackoff <= 0 {
		errors = append(errors, "drain RateLimitBackoff must be positive")
	}
	if c.MaxRateLimitBackoff < c.RateLimitBackoff {
		errors = append(errors, "drain MaxRateLimitBackoff must be greater than or equal to RateLimitBackoff")
	}
	if c.InterRequestDelay < 0 {
		errors = append(errors, "drain InterRequestDelay must be non-negative")
	}
	if c.MaxDuration <= 0 {
		errors = append(errors, "drain MaxDuration must be positive")
	}
	if g.drainBackoff == nil {
		errors = append(errors, "drain backoff strategy cannot be nil")
	}

	return errors
}

func (g *Governor) validateQuotaConfig() []string {
	var errors []string

	if g.quotaStore == nil {
		errors = append(errors, "quota store cannot be nil")
	}
	if g.quotaResetAfter <= 0 {
		errors = append(errors, "quota reset period must be positive")
	}

	return errors
}

func (g *Governor) validateDebugConfig() []string {
	var errors []string

	if g.logger == nil {
		errors = append(errors, "logger cannot be nil")
	}
	if g.debug != nil && g.debug.Enabled && g.debug.RequestIDGen == nil {
		errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
	}

	return errors
}
