// Package quotaguard governs calls to quota-limited external APIs from a
// single process:
//
//   - Per-API sliding window rate limits (N requests per window)
//   - TTL response caching keyed by a canonical (api, params) form
//   - Per-API circuit breaker (closed / open / half-open with a single trial)
//   - FIFO backlog per API, drained as window slots free up
//   - Detection and persistence of provider daily-quota errors
//   - Prometheus metrics and zap-backed structured logging
//
// Typical usage:
//
//	g := quotaguard.New(
//	    quotaguard.WithProfile(quotaguard.APIProfile{
//	        Name: "gemini", MaxRequests: 15, Window: time.Minute, CacheDuration: 5 * time.Minute,
//	    }),
//	    quotaguard.WithCircuitBreaker(quotaguard.CircuitBreakerConfig{}),
//	)
//	defer g.Close()
//	out, err := g.Do(ctx, "gemini", params, func(ctx context.Context) (any, error) {
//	    return callGemini(ctx, params)
//	})
//
// Calls that find their API rate limited are queued and block until the
// drain worker runs them or ctx ends. The governor never retries: errors
// from the call come back unchanged, except daily quota errors, which are
// reported as ErrDailyQuotaExceeded and set a flag that CheckDailyQuotaReset
// (or a QuotaWatcher) clears after 24 hours.
package quotaguard
