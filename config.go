package quotaguard

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the file form of a governor configuration. Durations are whole
// milliseconds; zero values keep the library defaults.
type Config struct {
	APIs           map[string]APIConfig `koanf:"apis"`
	CacheSize      int                  `koanf:"cache_size"`
	CircuitBreaker BreakerConfig        `koanf:"circuit_breaker"`
	Drain          DrainFileConfig      `koanf:"drain"`
	Quota          QuotaConfig          `koanf:"quota"`
	Server         ServerConfig         `koanf:"server"`
	Debug          bool                 `koanf:"debug"`
	Deduplicate    bool                 `koanf:"deduplicate"`
}

// APIConfig is one API profile.
type APIConfig struct {
	MaxRequests     int   `koanf:"max_requests"`
	WindowMs        int64 `koanf:"window_ms"`
	CacheDurationMs int64 `koanf:"cache_duration_ms"`
}

// BreakerConfig is the circuit breaker section.
type BreakerConfig struct {
	FailureThreshold  int   `koanf:"failure_threshold"`
	RecoveryTimeoutMs int64 `koanf:"recovery_timeout_ms"`
}

// DrainFileConfig is the drain loop section.
type DrainFileConfig struct {
	RateLimitBackoffMs    int64  `koanf:"rate_limit_backoff_ms"`
	MaxRateLimitBackoffMs int64  `koanf:"max_rate_limit_backoff_ms"`
	InterRequestDelayMs   int64  `koanf:"inter_request_delay_ms"`
	MaxDurationMs         int64  `koanf:"max_duration_ms"`
	Backoff               string `koanf:"backoff"`
}

// QuotaConfig is the daily quota section.
type QuotaConfig struct {
	StorePath     string   `koanf:"store_path"`
	CheckSchedule string   `koanf:"check_schedule"`
	ResetAfterMs  int64    `koanf:"reset_after_ms"`
	Phrases       []string `koanf:"phrases"`
}

// ServerConfig is used by the serve command.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// configDelim separates nested config keys. API names are map keys under
// "apis" and may contain dots.
const configDelim = "::"

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig parses a YAML configuration document.
func ParseConfig(raw []byte) (*Config, error) {
	k := koanf.New(configDelim)
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Profiles returns the configured API profiles sorted by name.
func (c *Config) Profiles() []APIProfile {
	names := make([]string, 0, len(c.APIs))
	for name := range c.APIs {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]APIProfile, 0, len(names))
	for _, name := range names {
		a := c.APIs[name]
		profiles = append(profiles, APIProfile{
			Name:          name,
			MaxRequests:   a.MaxRequests,
			Window:        millis(a.WindowMs),
			CacheDuration: millis(a.CacheDurationMs),
		})
	}
	return profiles
}

// Options converts the file configuration into governor options. The quota
// store path is not opened here; see OpenBoltQuotaStore.
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	if profiles := c.Profiles(); len(profiles) > 0 {
		opts = append(opts, WithProfiles(profiles...))
	}
	if c.CacheSize != 0 {
		opts = append(opts, WithCacheSize(c.CacheSize))
	}

	opts = append(opts, WithCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  millis(c.CircuitBreaker.RecoveryTimeoutMs),
	}))

	opts = append(opts, WithDrainConfig(DrainConfig{
		RateLimitBackoff:    millis(c.Drain.RateLimitBackoffMs),
		MaxRateLimitBackoff: millis(c.Drain.MaxRateLimitBackoffMs),
		InterRequestDelay:   millis(c.Drain.InterRequestDelayMs),
		MaxDuration:         millis(c.Drain.MaxDurationMs),
	}))

	strategy, err := ParseBackoffStrategy(c.Drain.Backoff)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithDrainBackoff(strategy))

	if len(c.Quota.Phrases) > 0 {
		opts = append(opts, WithQuotaPhrases(c.Quota.Phrases...))
	}
	if c.Quota.ResetAfterMs != 0 {
		opts = append(opts, WithQuotaResetAfter(millis(c.Quota.ResetAfterMs)))
	}
	if c.Debug {
		opts = append(opts, WithDebug())
	}
	if c.Deduplicate {
		opts = append(opts, WithDeduplication())
	}

	return opts, nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
