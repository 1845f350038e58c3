package quotaguard

import (
	"context"
	"time"
)

// RequestFunc performs the governed call. The governor passes the caller's
// context through untouched and treats the returned value as opaque.
type RequestFunc func(ctx context.Context) (any, error)

// APIProfile holds the limits for one named external service.
type APIProfile struct {
	Name          string
	MaxRequests   int
	Window        time.Duration
	CacheDuration time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// CircuitState represents the state of a per-API circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String renders the state the way status consumers expect it.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CacheEntry represents a cached result
type CacheEntry struct {
	Data      any
	CreatedAt time.Time
	TTL       time.Duration
}

func (e *CacheEntry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// DrainConfig controls the per-API queue drain loop.
type DrainConfig struct {
	// RateLimitBackoff is the wait before re-checking an exhausted window.
	RateLimitBackoff time.Duration
	// MaxRateLimitBackoff caps growing strategies; ignored by the fixed one.
	MaxRateLimitBackoff time.Duration
	// InterRequestDelay spaces consecutive queued executions.
	InterRequestDelay time.Duration
	// MaxDuration is the wall-clock ceiling of a single drain run.
	MaxDuration time.Duration
}

// Status is a read-only snapshot of one API's governor state.
type Status struct {
	RemainingRequests   int    `json:"remainingRequests"`
	QueueLength         int    `json:"queueLength"`
	CircuitBreakerState string `json:"circuitBreakerState"`
	CacheSize           int    `json:"cacheSize"`
}

// QuotaFlag is the durable daily-quota marker.
type QuotaFlag struct {
	Exceeded   bool      `json:"exceeded"`
	ExceededAt time.Time `json:"exceededAt"`
}

// Option represents a configuration option
type Option func(*Governor)
