package quotaguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ambiyansyah-risyal/quotaguard/internal/backoff"
	"github.com/ambiyansyah-risyal/quotaguard/internal/singleflight"
)

// Governor guards calls to quota-limited APIs. Each configured API gets its
// own sliding rate window, circuit breaker and FIFO backlog; results are
// cached per canonical (api, params) key. It is safe for concurrent use.
type Governor struct {
	profiles        *ProfileRegistry
	limiter         *RateLimitTracker
	cache           *ResponseCache
	cacheSize       int
	breaker         *CircuitBreaker
	breakerConfig   CircuitBreakerConfig
	queue           *RequestQueue
	drainConfig     DrainConfig
	drainBackoff    backoff.Strategy
	quotaStore      QuotaStore
	quotaPhrases    []string
	quotaResetAfter time.Duration
	clock           clockwork.Clock
	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	dedup           *singleflight.Group
	stop            chan struct{}
	closeOnce       sync.Once
	validationError error
}

// New constructs a Governor using the provided functional options. When no
// profile is configured the DefaultProfiles are used. Configuration errors
// are reported by ValidationError and returned from every Do call.
func New(options ...Option) *Governor {
	g := &Governor{
		profiles:        NewProfileRegistry(),
		cacheSize:       DefaultCacheSize,
		breakerConfig:   CircuitBreakerConfig{},
		drainConfig:     DefaultDrainConfig(),
		drainBackoff:    backoff.FixedStrategy{},
		quotaStore:      NewMemoryQuotaStore(),
		quotaPhrases:    DefaultQuotaPhrases,
		quotaResetAfter: DefaultQuotaResetAfter,
		clock:           clockwork.NewRealClock(),
		metrics:         nil,
		debug:           DefaultDebugConfig(),
		logger:          NewNopLogger(),
		dedup:           nil,
		stop:            make(chan struct{}),
	}

	for _, option := range options {
		option(g)
	}

	if g.profiles.Len() == 0 {
		for _, p := range DefaultProfiles() {
			g.profiles.Register(p)
		}
	}

	g.limiter = NewRateLimitTracker(g.profiles, g.clock)
	g.breaker = NewCircuitBreaker(g.breakerConfig, g.clock)
	g.queue = NewRequestQueue(g.drain)

	cache, err := NewResponseCache(g.cacheSize, g.clock)
	if err != nil {
		cache, _ = NewResponseCache(DefaultCacheSize, g.clock)
	}
	g.cache = cache

	if err := g.ValidateConfiguration(); err != nil {
		g.validationError = err
	}

	return g
}

// Do runs fn for api unless a cached result for params exists. Calls are
// refused while the API's circuit is open and deferred into the API's
// queue while its rate window is exhausted. Errors from fn are returned
// unchanged, except provider daily-quota errors, which come back as an
// ErrDailyQuotaExceeded GovernorError.
func (g *Governor) Do(ctx context.Context, api string, params any, fn RequestFunc) (any, error) {
	if g.validationError != nil {
		return nil, g.validationError
	}
	if _, ok := g.profiles.Get(api); !ok {
		return nil, g.newError(ErrorTypeUnknownAPI, api, "no profile configured", nil, "")
	}

	start := g.clock.Now()
	requestID := g.requestID()

	key, err := CacheKey(api, params)
	if err != nil {
		return nil, g.newError(ErrorTypeCacheKey, api, "cannot derive cache key", err, requestID)
	}

	if g.debugOn(g.debug.LogRequests) {
		g.logger.Debug("Starting request", "requestID", requestID, "api", api, "cacheKey", key)
	}

	if data, ok := g.cache.Get(key); ok {
		if g.debugOn(g.debug.LogCache) {
			g.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", key)
		}
		g.metrics.RecordCacheHit(api)
		g.metrics.RecordRequest(api, outcomeCached, g.clock.Since(start))
		return data, nil
	}
	g.metrics.RecordCacheMiss(api)

	if g.dedup == nil {
		return g.admit(ctx, api, key, requestID, fn)
	}

	for {
		data, err, shared := g.dedup.Do(key, func() (any, error) {
			data, err := g.admit(ctx, api, key, requestID, fn)
			if err != nil && ctx.Err() != nil {
				return nil, &leaderCancelledError{err: err}
			}
			return data, err
		})

		var cancelled *leaderCancelledError
		if errors.As(err, &cancelled) {
			if ctx.Err() != nil {
				return nil, cancelled.err
			}
			// The shared call ran under another caller's context, which ended.
			if g.debugOn(g.debug.LogRequests) {
				g.logger.Debug("Shared request abandoned by its first caller, retrying", "requestID", requestID, "cacheKey", key)
			}
			continue
		}

		if shared {
			g.metrics.RecordDeduplicationHit(api)
			if g.debugOn(g.debug.LogRequests) {
				g.logger.Debug("Deduplicated concurrent request", "requestID", requestID, "cacheKey", key)
			}
		}
		return data, err
	}
}

// leaderCancelledError marks a deduplicated call that failed because the
// context it ran under ended.
type leaderCancelledError struct {
	err error
}

func (e *leaderCancelledError) Error() string { return e.err.Error() }

func (e *leaderCancelledError) Unwrap() error { return e.err }

// Request is the typed form of Governor.Do.
func Request[T any](ctx context.Context, g *Governor, api string, params any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := g.Do(ctx, api, params, func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	if data == nil {
		return zero, nil
	}
	v, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("quotaguard: result for %s has type %T, want %T", api, data, zero)
	}
	return v, nil
}

// admit applies the circuit and rate checks, then executes or queues.
func (g *Governor) admit(ctx context.Context, api, key, requestID string, fn RequestFunc) (any, error) {
	if !g.breaker.Allow(api) {
		return nil, g.circuitOpenError(api, requestID)
	}

	if g.queue.Len(api) == 0 && g.limiter.TryAcquire(api) {
		g.metrics.RecordRemainingRequests(api, g.limiter.Remaining(api))
		return g.execute(ctx, api, key, requestID, fn)
	}

	g.breaker.Release(api)
	return g.enqueue(ctx, api, key, requestID, fn)
}

// execute runs fn, whose rate limit slot has already been consumed, and
// records the outcome.
func (g *Governor) execute(ctx context.Context, api, key, requestID string, fn RequestFunc) (any, error) {
	start := g.clock.Now()
	g.metrics.RecordRequestStart(api)
	data, err := fn(ctx)
	g.metrics.RecordRequestEnd(api)
	duration := g.clock.Since(start)

	if err == nil {
		g.breaker.RecordSuccess(api)
		g.metrics.RecordCircuitBreakerState(api, StateClosed)

		profile, _ := g.profiles.Get(api)
		g.cache.Set(key, data, profile.CacheDuration)
		g.metrics.RecordCacheSize(g.cache.Len())
		if g.debugOn(g.debug.LogCache) {
			g.logger.Debug("Response cached", "requestID", requestID, "cacheKey", key, "ttl", profile.CacheDuration)
		}

		g.metrics.RecordRequest(api, outcomeSuccess, duration)
		return data, nil
	}

	if MatchesQuotaPhrase(err, g.quotaPhrases) {
		g.breaker.Release(api)
		g.markQuotaExceeded(ctx, api, requestID)
		g.metrics.RecordError(ErrorTypeDailyQuota, api)
		g.metrics.RecordRequest(api, outcomeQuota, duration)
		return nil, g.newError(ErrorTypeDailyQuota, api, "daily quota exceeded", err, requestID)
	}

	before := g.breaker.State(api)
	g.breaker.RecordFailure(api)
	after := g.breaker.State(api)
	g.metrics.RecordCircuitBreakerState(api, after)
	if after == StateOpen && before != StateOpen {
		g.logger.Warn("Circuit breaker opened", "requestID", requestID, "api", api, "failures", g.breaker.Failures(api), "error", err.Error())
	} else if g.debugOn(g.debug.LogCircuit) {
		g.logger.Debug("Circuit breaker failure recorded", "requestID", requestID, "api", api, "failures", g.breaker.Failures(api), "error", err.Error())
	}

	g.metrics.RecordError(ErrorTypeFailure, api)
	g.metrics.RecordRequest(api, outcomeFailure, duration)
	return nil, err
}

func (g *Governor) circuitOpenError(api, requestID string) error {
	if g.debugOn(g.debug.LogCircuit) {
		g.logger.Debug("Circuit breaker refused request", "requestID", requestID, "api", api, "state", g.breaker.State(api))
	}
	g.metrics.RecordError(ErrorTypeCircuitOpen, api)
	return g.newError(ErrorTypeCircuitOpen, api, "service temporarily unavailable", nil, requestID)
}

// Status returns a snapshot of api's governor state.
func (g *Governor) Status(api string) (Status, error) {
	if _, ok := g.profiles.Get(api); !ok {
		return Status{}, g.newError(ErrorTypeUnknownAPI, api, "no profile configured", nil, "")
	}
	return Status{
		RemainingRequests:   g.limiter.Remaining(api),
		QueueLength:         g.queue.Len(api),
		CircuitBreakerState: g.breaker.State(api).String(),
		CacheSize:           g.cache.Len(),
	}, nil
}

// RemainingRequests returns the free slots in api's current window.
func (g *Governor) RemainingRequests(api string) int {
	return g.limiter.Remaining(api)
}

// QueueLength returns the number of calls waiting for api.
func (g *Governor) QueueLength(api string) int {
	return g.queue.Len(api)
}

// APIs returns the configured API names.
func (g *Governor) APIs() []string {
	return g.profiles.Names()
}

// ClearCache drops every cached result.
func (g *Governor) ClearCache() {
	g.cache.Clear()
	g.metrics.RecordCacheSize(0)
}

// ClearRateLimits forgets every recorded request in every window.
func (g *Governor) ClearRateLimits() {
	g.limiter.Reset()
	for _, api := range g.profiles.Names() {
		g.metrics.RecordRemainingRequests(api, g.limiter.Remaining(api))
	}
}

// Close stops the drain workers and rejects every call still queued with
// ErrClosed. Calls already executing run to completion.
func (g *Governor) Close() error {
	g.closeOnce.Do(func() {
		close(g.stop)
		g.queue.Close(func(api string, req *queuedRequest) {
			req.deliver(nil, g.newError(ErrorTypeClosed, api, "governor closed while request was queued", nil, req.requestID))
		})
		for _, api := range g.profiles.Names() {
			g.metrics.RecordQueueLength(api, 0)
		}
	})
	return nil
}

// IsValid reports whether configuration validation passed at construction.
func (g *Governor) IsValid() bool {
	return g.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (g *Governor) ValidationError() error {
	return g.validationError
}
