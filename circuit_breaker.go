package quotaguard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CircuitBreaker tracks consecutive failures per API. After FailureThreshold
// failures an API's circuit opens for RecoveryTimeout; it then admits a
// single trial call in half-open state, whose outcome closes or re-opens it.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	clock  clockwork.Clock
	states map[string]*breakerState
}

type breakerState struct {
	state         CircuitState
	failures      int
	lastFailure   time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, clock clockwork.Clock) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		clock:  clock,
		states: make(map[string]*breakerState),
	}
}

// state returns the lazily created bundle for api. Caller holds cb.mu.
func (cb *CircuitBreaker) state(api string) *breakerState {
	s, ok := cb.states[api]
	if !ok {
		s = &breakerState{state: StateClosed}
		cb.states[api] = s
	}
	return s
}

func (cb *CircuitBreaker) cooledDown(s *breakerState) bool {
	return cb.clock.Since(s.lastFailure) >= cb.config.RecoveryTimeout
}

// Ready reports whether a call to api would currently be admitted, without
// claiming the half-open trial.
func (cb *CircuitBreaker) Ready(api string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.state(api)
	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		return cb.cooledDown(s)
	case StateHalfOpen:
		return !s.trialInFlight
	default:
		return false
	}
}

// Allow admits a call to api. Once the cooldown has elapsed the first caller
// becomes the half-open trial; everyone else is refused until it reports.
func (cb *CircuitBreaker) Allow(api string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.state(api)
	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		if !cb.cooledDown(s) {
			return false
		}
		s.state = StateHalfOpen
		s.trialInFlight = true
		return true
	case StateHalfOpen:
		if s.trialInFlight {
			return false
		}
		s.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(api string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.state(api)
	s.state = StateClosed
	s.failures = 0
	s.trialInFlight = false
}

// RecordFailure counts a service failure and opens the circuit when the
// threshold is reached. A failed half-open trial re-opens it immediately.
func (cb *CircuitBreaker) RecordFailure(api string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.state(api)
	s.failures++
	s.lastFailure = cb.clock.Now()

	switch s.state {
	case StateClosed:
		if s.failures >= cb.config.FailureThreshold {
			s.state = StateOpen
		}
	case StateHalfOpen:
		s.state = StateOpen
		s.trialInFlight = false
	case StateOpen:
		// stragglers admitted before the trip only push the cooldown out
	}
}

// Release hands back an admission that produced no verdict on the service,
// such as a call that was queued instead or hit the daily quota.
func (cb *CircuitBreaker) Release(api string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.state(api)
	if s.state == StateHalfOpen {
		s.trialInFlight = false
	}
}

// State returns the current state for api.
func (cb *CircuitBreaker) State(api string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state(api).state
}

// Failures returns the consecutive failure count for api.
func (cb *CircuitBreaker) Failures(api string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state(api).failures
}
