package quotaguard

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ambiyansyah-risyal/quotaguard/internal/backoff"
)

func TestWithOptions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryQuotaStore()
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	logger := NewNopLogger()

	g := New(
		WithProfiles(testProfile("a", 1, time.Second), testProfile("b", 2, time.Second)),
		WithClock(clock),
		WithCacheSize(16),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Second}),
		WithQuotaStore(store),
		WithQuotaResetAfter(time.Hour),
		WithMetricsCollector(collector),
		WithLogger(logger),
		WithDeduplication(),
	)
	defer g.Close()

	if !g.IsValid() {
		t.Fatalf("Expected valid configuration, got %v", g.ValidationError())
	}
	if g.clock != clock {
		t.Error("clock not set")
	}
	if g.cacheSize != 16 {
		t.Errorf("Expected cacheSize=16, got %d", g.cacheSize)
	}
	if g.breaker.config.FailureThreshold != 2 {
		t.Errorf("Expected FailureThreshold=2, got %d", g.breaker.config.FailureThreshold)
	}
	if g.quotaStore != store {
		t.Error("quota store not set")
	}
	if g.quotaResetAfter != time.Hour {
		t.Errorf("Expected quotaResetAfter=1h, got %v", g.quotaResetAfter)
	}
	if g.metrics != collector {
		t.Error("metrics collector not set")
	}
	if g.logger != logger {
		t.Error("logger not set")
	}
	if g.dedup == nil {
		t.Error("deduplication not enabled")
	}
	if got := g.APIs(); len(got) != 2 {
		t.Errorf("Expected 2 APIs, got %v", got)
	}
}

func TestWithClockNilKeepsDefault(t *testing.T) {
	g := New(WithClock(nil))
	defer g.Close()

	if g.clock == nil {
		t.Error("Expected default clock to be kept")
	}
}

func TestWithDrainConfigFillsDefaults(t *testing.T) {
	g := New(WithDrainConfig(DrainConfig{InterRequestDelay: 5 * time.Millisecond}))
	defer g.Close()

	defaults := DefaultDrainConfig()
	if g.drainConfig.InterRequestDelay != 5*time.Millisecond {
		t.Errorf("Expected InterRequestDelay=5ms, got %v", g.drainConfig.InterRequestDelay)
	}
	if g.drainConfig.RateLimitBackoff != defaults.RateLimitBackoff {
		t.Errorf("Expected default RateLimitBackoff, got %v", g.drainConfig.RateLimitBackoff)
	}
	if g.drainConfig.MaxDuration != defaults.MaxDuration {
		t.Errorf("Expected default MaxDuration, got %v", g.drainConfig.MaxDuration)
	}
}

func TestWithDrainBackoff(t *testing.T) {
	tests := []struct {
		strategy BackoffStrategy
		want     backoff.Strategy
	}{
		{FixedBackoff, backoff.FixedStrategy{}},
		{ExponentialJitter, backoff.ExponentialJitterStrategy{}},
		{DecorrelatedJitter, backoff.DecorrelatedJitterStrategy{}},
	}

	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			g := New(WithDrainBackoff(tt.strategy))
			defer g.Close()

			if g.drainBackoff != tt.want {
				t.Errorf("Expected %T, got %T", tt.want, g.drainBackoff)
			}
		})
	}
}

func TestParseBackoffStrategy(t *testing.T) {
	for _, name := range []string{"", "fixed", "exponential", "decorrelated"} {
		s, err := ParseBackoffStrategy(name)
		if err != nil {
			t.Errorf("ParseBackoffStrategy(%q) error = %v", name, err)
		}
		if name != "" && s.String() != name {
			t.Errorf("Expected round trip for %q, got %q", name, s.String())
		}
	}

	if _, err := ParseBackoffStrategy("linear"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestWithDebugOptions(t *testing.T) {
	g := New(WithDebugConfig(nil), WithRequestIDGenerator(func() string { return "fixed" }), WithDebug())
	defer g.Close()

	if !g.debug.Enabled {
		t.Error("Expected debug enabled")
	}
	if g.requestID() != "fixed" {
		t.Errorf("Expected custom request id, got %q", g.requestID())
	}

	quiet := New()
	defer quiet.Close()
	if quiet.requestID() != "" {
		t.Error("Expected no request id with debug disabled")
	}
}

func TestWithSimpleLogger(t *testing.T) {
	g := New(WithSimpleLogger())
	defer g.Close()

	if !g.debug.Enabled {
		t.Error("Expected debug enabled")
	}
	if g.logger == nil {
		t.Error("Expected logger set")
	}
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		want    string
	}{
		{"max requests", []Option{WithProfile(APIProfile{Name: "x", Window: time.Second})}, "MaxRequests must be positive"},
		{"window", []Option{WithProfile(APIProfile{Name: "x", MaxRequests: 1})}, "Window must be positive"},
		{"cache duration", []Option{WithProfile(APIProfile{Name: "x", MaxRequests: 1, Window: time.Second, CacheDuration: -1})}, "CacheDuration must be non-negative"},
		{"cache size", []Option{WithCacheSize(0)}, "cacheSize must be positive"},
		{"breaker", []Option{WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: -1})}, "FailureThreshold must be non-negative"},
		{"drain", []Option{WithDrainConfig(DrainConfig{RateLimitBackoff: time.Minute, MaxRateLimitBackoff: time.Second})}, "MaxRateLimitBackoff"},
		{"quota store", []Option{WithQuotaStore(nil)}, "quota store cannot be nil"},
		{"quota reset", []Option{WithQuotaResetAfter(-time.Hour)}, "quota reset period must be positive"},
		{"logger", []Option{WithLogger(nil)}, "logger cannot be nil"},
		{"request id", []Option{WithDebug(), WithRequestIDGenerator(nil)}, "RequestIDGen must be set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.options...)
			defer g.Close()

			err := g.ValidationError()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in %q", tt.want, err.Error())
			}

			var gerr *GovernorError
			if !errors.As(err, &gerr) || gerr.Type != ErrorTypeValidation {
				t.Errorf("Expected a Validation GovernorError, got %T", err)
			}
		})
	}
}

func TestValidateConfigurationCollectsAll(t *testing.T) {
	g := New(WithCacheSize(-1), WithQuotaResetAfter(0), WithProfile(APIProfile{Name: "x"}))
	defer g.Close()

	msg := g.ValidationError().Error()
	for _, want := range []string{"cacheSize", "quota reset", "MaxRequests", "Window"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}
}
