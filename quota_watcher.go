package quotaguard

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultQuotaCheckSchedule is the cron spec used when none is given.
const DefaultQuotaCheckSchedule = "@every 1h"

// QuotaWatcher runs CheckDailyQuotaReset on a cron schedule. The governor
// never starts one on its own.
type QuotaWatcher struct {
	governor *Governor
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewQuotaWatcher returns a stopped watcher for g.
func NewQuotaWatcher(g *Governor, schedule string) *QuotaWatcher {
	if schedule == "" {
		schedule = DefaultQuotaCheckSchedule
	}
	return &QuotaWatcher{
		governor: g,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start validates the schedule, runs one check immediately and then keeps
// checking on schedule. ctx bounds every check.
func (w *QuotaWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if _, err := cron.ParseStandard(w.schedule); err != nil {
		return fmt.Errorf("invalid quota check schedule %q: %w", w.schedule, err)
	}

	check := func() {
		if err := w.governor.CheckDailyQuotaReset(ctx); err != nil {
			w.governor.logger.Error("Daily quota reset check failed", "error", err)
		}
	}
	if _, err := w.cron.AddFunc(w.schedule, check); err != nil {
		return fmt.Errorf("schedule quota check: %w", err)
	}

	check()
	w.cron.Start()
	w.running = true
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (w *QuotaWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	<-w.cron.Stop().Done()
	w.running = false
}
