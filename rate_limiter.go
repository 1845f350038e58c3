package quotaguard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimitTracker keeps a sliding window of request timestamps per API.
// Windows are continuous: a timestamp counts until exactly Window has passed.
type RateLimitTracker struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	profiles *ProfileRegistry
	windows  map[string][]time.Time
}

// NewRateLimitTracker creates a tracker reading limits from profiles.
func NewRateLimitTracker(profiles *ProfileRegistry, clock clockwork.Clock) *RateLimitTracker {
	return &RateLimitTracker{
		clock:    clock,
		profiles: profiles,
		windows:  make(map[string][]time.Time),
	}
}

// IsAllowed reports whether api has a free slot right now.
func (rl *RateLimitTracker) IsAllowed(api string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	profile, ok := rl.profiles.Get(api)
	if !ok {
		return false
	}
	return len(rl.prune(api, profile)) < profile.MaxRequests
}

// Record consumes one slot for api.
func (rl *RateLimitTracker) Record(api string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	profile, ok := rl.profiles.Get(api)
	if !ok {
		return
	}
	rl.windows[api] = append(rl.prune(api, profile), rl.clock.Now())
}

// TryAcquire checks and consumes a slot atomically.
func (rl *RateLimitTracker) TryAcquire(api string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	profile, ok := rl.profiles.Get(api)
	if !ok {
		return false
	}
	window := rl.prune(api, profile)
	if len(window) >= profile.MaxRequests {
		return false
	}
	rl.windows[api] = append(window, rl.clock.Now())
	return true
}

// Refund gives back the most recent slot taken for api, for a call that was
// dropped before it ran.
func (rl *RateLimitTracker) Refund(api string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.windows[api]
	if len(window) == 0 {
		return
	}
	rl.windows[api] = window[:len(window)-1]
}

// Remaining returns the number of free slots in the current window.
func (rl *RateLimitTracker) Remaining(api string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	profile, ok := rl.profiles.Get(api)
	if !ok {
		return 0
	}
	remaining := profile.MaxRequests - len(rl.prune(api, profile))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NextSlotIn returns how long until the oldest recorded request leaves the
// window. Zero means a slot is free now.
func (rl *RateLimitTracker) NextSlotIn(api string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	profile, ok := rl.profiles.Get(api)
	if !ok {
		return 0
	}
	window := rl.prune(api, profile)
	if len(window) < profile.MaxRequests || len(window) == 0 {
		return 0
	}
	return profile.Window - rl.clock.Since(window[0])
}

// Reset forgets every recorded request.
func (rl *RateLimitTracker) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.windows = make(map[string][]time.Time)
}

// prune drops timestamps older than the window. Caller holds rl.mu.
func (rl *RateLimitTracker) prune(api string, profile APIProfile) []time.Time {
	window := rl.windows[api]
	now := rl.clock.Now()

	i := 0
	for i < len(window) && now.Sub(window[i]) >= profile.Window {
		i++
	}
	if i > 0 {
		window = append(window[:0], window[i:]...)
		rl.windows[api] = window
	}
	return window
}
