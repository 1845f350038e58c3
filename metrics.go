package quotaguard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes used as the "outcome" label.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeQuota   = "quota_exceeded"
	outcomeCached  = "cached"
)

// MetricsCollector provides Prometheus metrics for the governor's request
// lifecycle and protection layers. It is safe for concurrent use, and every
// method is a no-op on a nil collector.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	circuitBreakerState *prometheus.GaugeVec

	remainingRequests *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	queueLength    *prometheus.GaugeVec
	queuedTotal    *prometheus.CounterVec
	drainAbandoned *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec

	quotaExceeded prometheus.Gauge

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_requests_total",
				Help: "Total number of governed requests by outcome",
			},
			[]string{"api", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotaguard_request_duration_seconds",
				Help:    "Duration of governed requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api", "outcome"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotaguard_requests_in_flight",
				Help: "Number of requests currently executing",
			},
			[]string{"api"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotaguard_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"api"},
		),
		remainingRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotaguard_remaining_requests",
				Help: "Free slots in the current rate limit window",
			},
			[]string{"api"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"api"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"api"},
		),
		cacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotaguard_cache_size",
				Help: "Current number of entries in cache",
			},
		),
		queueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotaguard_queue_length",
				Help: "Requests waiting for a rate limit slot",
			},
			[]string{"api"},
		),
		queuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_queued_total",
				Help: "Total number of requests deferred into the queue",
			},
			[]string{"api"},
		),
		drainAbandoned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_drain_abandoned_total",
				Help: "Queued requests left behind when a drain run hit its time ceiling",
			},
			[]string{"api"},
		),
		deduplicationHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_deduplication_hits_total",
				Help: "Total number of calls served by a concurrent identical call",
			},
			[]string{"api"},
		),
		quotaExceeded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotaguard_daily_quota_exceeded",
				Help: "1 while the persisted daily quota flag is set",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "api"},
		),
	}

	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(api, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(api, outcome).Inc()
	mc.requestDuration.WithLabelValues(api, outcome).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(api string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(api).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(api string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(api).Dec()
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(api string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(api).Set(stateValue)
}

// RecordRemainingRequests sets the free slot gauge.
func (mc *MetricsCollector) RecordRemainingRequests(api string, remaining int) {
	if mc == nil {
		return
	}

	mc.remainingRequests.WithLabelValues(api).Set(float64(remaining))
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(api string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(api).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(api string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(api).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.Set(float64(size))
}

// RecordQueued counts a deferred request and updates the queue gauge.
func (mc *MetricsCollector) RecordQueued(api string, length int) {
	if mc == nil {
		return
	}

	mc.queuedTotal.WithLabelValues(api).Inc()
	mc.queueLength.WithLabelValues(api).Set(float64(length))
}

// RecordQueueLength sets the queue gauge.
func (mc *MetricsCollector) RecordQueueLength(api string, length int) {
	if mc == nil {
		return
	}

	mc.queueLength.WithLabelValues(api).Set(float64(length))
}

// RecordDrainAbandoned adds the entries left behind by a drain ceiling.
func (mc *MetricsCollector) RecordDrainAbandoned(api string, remaining int) {
	if mc == nil {
		return
	}

	mc.drainAbandoned.WithLabelValues(api).Add(float64(remaining))
}

// RecordDeduplicationHit increments de-dup hit counter.
func (mc *MetricsCollector) RecordDeduplicationHit(api string) {
	if mc == nil {
		return
	}

	mc.deduplicationHits.WithLabelValues(api).Inc()
}

// RecordQuotaExceeded mirrors the persisted daily quota flag.
func (mc *MetricsCollector) RecordQuotaExceeded(exceeded bool) {
	if mc == nil {
		return
	}

	if exceeded {
		mc.quotaExceeded.Set(1)
	} else {
		mc.quotaExceeded.Set(0)
	}
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, api string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, api).Inc()
}

// GetRegistry exposes the underlying prometheus registry, if it is one.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
