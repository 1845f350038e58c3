package quotaguard

import (
	"sort"
	"sync"
	"time"
)

// Well-known API names.
const (
	APIGemini = "gemini"
	APIPlaces = "places"
)

// DefaultProfiles returns the limits used when no profile is configured:
// the generative endpoint's free tier allows 15 requests per minute, the
// places search is kept to 10.
func DefaultProfiles() []APIProfile {
	return []APIProfile{
		{Name: APIGemini, MaxRequests: 15, Window: time.Minute, CacheDuration: 5 * time.Minute},
		{Name: APIPlaces, MaxRequests: 10, Window: time.Minute, CacheDuration: 10 * time.Minute},
	}
}

// ProfileRegistry maps API names to their configured limits.
type ProfileRegistry struct {
	mutex    sync.RWMutex
	profiles map[string]APIProfile
}

// NewProfileRegistry creates a registry holding the given profiles.
func NewProfileRegistry(profiles ...APIProfile) *ProfileRegistry {
	r := &ProfileRegistry{
		profiles: make(map[string]APIProfile, len(profiles)),
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the profile for p.Name.
func (r *ProfileRegistry) Register(p APIProfile) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.profiles[p.Name] = p
}

// Get returns the profile for api.
func (r *ProfileRegistry) Get(api string) (APIProfile, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	p, ok := r.profiles[api]
	return p, ok
}

// Names returns the registered API names in sorted order.
func (r *ProfileRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered profiles.
func (r *ProfileRegistry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.profiles)
}
