package quotaguard

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}

	if collector.requestsTotal == nil {
		t.Error("requestsTotal metric not initialized")
	}

	if collector.circuitBreakerState == nil {
		t.Error("circuitBreakerState metric not initialized")
	}

	if collector.queueLength == nil {
		t.Error("queueLength metric not initialized")
	}

	if collector.quotaExceeded == nil {
		t.Error("quotaExceeded metric not initialized")
	}

	if collector.GetRegistry() != registry {
		t.Error("Registry not set correctly")
	}
}

func TestMetricsCollectorForeignRegisterer(t *testing.T) {
	wrapped := prometheus.WrapRegistererWithPrefix("app_", prometheus.NewRegistry())
	collector := NewMetricsCollectorWithRegistry(wrapped)

	if collector.GetRegistry() != nil {
		t.Error("Expected no registry for a non-Registry registerer")
	}
}

func TestRecordRequest(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequest("gemini", outcomeSuccess, 150*time.Millisecond)
	collector.RecordRequest("gemini", outcomeSuccess, 50*time.Millisecond)
	collector.RecordRequest("gemini", outcomeFailure, time.Second)

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("gemini", outcomeSuccess)); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("gemini", outcomeFailure)); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}

func TestRecordCircuitBreakerState(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	tests := []struct {
		state CircuitState
		want  float64
	}{
		{StateClosed, 0},
		{StateOpen, 1},
		{StateHalfOpen, 2},
	}

	for _, tt := range tests {
		collector.RecordCircuitBreakerState("places", tt.state)
		if got := testutil.ToFloat64(collector.circuitBreakerState.WithLabelValues("places")); got != tt.want {
			t.Errorf("state %v: expected %v, got %v", tt.state, tt.want, got)
		}
	}
}

func TestRecordQueueMetrics(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordQueued("places", 1)
	collector.RecordQueued("places", 2)
	collector.RecordQueueLength("places", 1)
	collector.RecordDrainAbandoned("places", 3)

	if got := testutil.ToFloat64(collector.queuedTotal.WithLabelValues("places")); got != 2 {
		t.Errorf("Expected queued_total=2, got %v", got)
	}
	if got := testutil.ToFloat64(collector.queueLength.WithLabelValues("places")); got != 1 {
		t.Errorf("Expected queue_length=1, got %v", got)
	}
	if got := testutil.ToFloat64(collector.drainAbandoned.WithLabelValues("places")); got != 3 {
		t.Errorf("Expected drain_abandoned_total=3, got %v", got)
	}
}

func TestRecordQuotaExceeded(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordQuotaExceeded(true)
	if got := testutil.ToFloat64(collector.quotaExceeded); got != 1 {
		t.Errorf("Expected 1, got %v", got)
	}

	collector.RecordQuotaExceeded(false)
	if got := testutil.ToFloat64(collector.quotaExceeded); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestRecordCacheAndErrors(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordCacheHit("gemini")
	collector.RecordCacheMiss("gemini")
	collector.RecordCacheMiss("gemini")
	collector.RecordCacheSize(7)
	collector.RecordDeduplicationHit("gemini")
	collector.RecordError(ErrorTypeCircuitOpen, "gemini")

	if got := testutil.ToFloat64(collector.cacheMisses.WithLabelValues("gemini")); got != 2 {
		t.Errorf("Expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cacheSize); got != 7 {
		t.Errorf("Expected cache size 7, got %v", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues(ErrorTypeCircuitOpen, "gemini")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestMetricsExposition(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	collector.RecordRemainingRequests("gemini", 12)

	if n, err := testutil.GatherAndCount(registry, "quotaguard_remaining_requests"); err != nil || n != 1 {
		t.Errorf("Expected one remaining_requests series, got %d (err=%v)", n, err)
	}
}

func TestNilMetricsCollector(t *testing.T) {
	var collector *MetricsCollector

	collector.RecordRequest("api", outcomeSuccess, time.Second)
	collector.RecordRequestStart("api")
	collector.RecordRequestEnd("api")
	collector.RecordCircuitBreakerState("api", StateOpen)
	collector.RecordRemainingRequests("api", 1)
	collector.RecordCacheHit("api")
	collector.RecordCacheMiss("api")
	collector.RecordCacheSize(1)
	collector.RecordQueued("api", 1)
	collector.RecordQueueLength("api", 1)
	collector.RecordDrainAbandoned("api", 1)
	collector.RecordDeduplicationHit("api")
	collector.RecordQuotaExceeded(true)
	collector.RecordError("x", "api")

	if collector.GetRegistry() != nil {
		t.Error("Expected nil registry")
	}
}
