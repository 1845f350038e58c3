package quotaguard

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultQuotaResetAfter is how long a daily quota flag stays set.
const DefaultQuotaResetAfter = 24 * time.Hour

// DefaultQuotaPhrases are the provider messages that signal a hard daily
// quota rather than a transient fault.
var DefaultQuotaPhrases = []string{
	"exceeded your current quota",
	"quota_value",
	"free_tier",
}

// QuotaStore persists the daily quota flag across restarts.
type QuotaStore interface {
	Load(ctx context.Context) (QuotaFlag, error)
	Save(ctx context.Context, flag QuotaFlag) error
	Clear(ctx context.Context) error
}

// MemoryQuotaStore keeps the flag in process memory. It is the default
// store and does not survive restarts.
type MemoryQuotaStore struct {
	mu   sync.RWMutex
	flag QuotaFlag
}

// NewMemoryQuotaStore returns an empty in-memory store.
func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{}
}

// Load returns the stored flag.
func (s *MemoryQuotaStore) Load(context.Context) (QuotaFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flag, nil
}

// Save replaces the stored flag.
func (s *MemoryQuotaStore) Save(_ context.Context, flag QuotaFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flag = flag
	return nil
}

// Clear resets the stored flag.
func (s *MemoryQuotaStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flag = QuotaFlag{}
	return nil
}

// MatchesQuotaPhrase reports whether err's message contains one of phrases,
// ignoring case.
func MatchesQuotaPhrase(err error, phrases []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(msg, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (g *Governor) markQuotaExceeded(ctx context.Context, api, requestID string) {
	flag := QuotaFlag{Exceeded: true, ExceededAt: g.clock.Now()}
	if err := g.quotaStore.Save(context.WithoutCancel(ctx), flag); err != nil {
		g.logger.Error("Failed to persist daily quota flag", "requestID", requestID, "api", api, "error", err)
	}
	g.metrics.RecordQuotaExceeded(true)
	g.logger.Warn("Daily quota exceeded", "requestID", requestID, "api", api, "exceededAt", flag.ExceededAt)
}

// CheckDailyQuotaReset clears the persisted quota flag once the reset period
// has passed since it was set. Callers run it periodically; see QuotaWatcher.
func (g *Governor) CheckDailyQuotaReset(ctx context.Context) error {
	flag, err := g.quotaStore.Load(ctx)
	if err != nil {
		return err
	}
	if !flag.Exceeded {
		return nil
	}
	if g.clock.Since(flag.ExceededAt) < g.quotaResetAfter {
		return nil
	}

	if err := g.quotaStore.Clear(ctx); err != nil {
		return err
	}
	g.metrics.RecordQuotaExceeded(false)
	g.logger.Info("Daily quota flag cleared", "exceededAt", flag.ExceededAt)
	return nil
}

// QuotaStatus returns the persisted quota flag.
func (g *Governor) QuotaStatus(ctx context.Context) (QuotaFlag, error) {
	return g.quotaStore.Load(ctx)
}
