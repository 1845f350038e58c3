package quotaguard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDrainConfig returns the drain timings: a fixed 2s wait while rate
// limited, 1s between queued executions and a 5 minute ceiling per run.
func DefaultDrainConfig() DrainConfig {
	return DrainConfig{
		RateLimitBackoff:    2 * time.Second,
		MaxRateLimitBackoff: 30 * time.Second,
		InterRequestDelay:   time.Second,
		MaxDuration:         5 * time.Minute,
	}
}

type queuedResult struct {
	data any
	err  error
}

// queuedRequest is a deferred call waiting for a rate limit slot.
type queuedRequest struct {
	ctx        context.Context
	key        string
	requestID  string
	fn         RequestFunc
	enqueuedAt time.Time
	result     chan queuedResult
	cancelled  atomic.Bool
}

func newQueuedRequest(ctx context.Context, key, requestID string, fn RequestFunc, now time.Time) *queuedRequest {
	return &queuedRequest{
		ctx:        ctx,
		key:        key,
		requestID:  requestID,
		fn:         fn,
		enqueuedAt: now,
		result:     make(chan queuedResult, 1),
	}
}

func (r *queuedRequest) deliver(data any, err error) {
	select {
	case r.result <- queuedResult{data: data, err: err}:
	default:
	}
}

func (r *queuedRequest) abandoned() bool {
	return r.cancelled.Load() || r.ctx.Err() != nil
}

type apiQueue struct {
	mu       sync.Mutex
	entries  []*queuedRequest
	draining bool
}

// RequestQueue holds one FIFO backlog per API and runs at most one drain
// worker per API. The worker body is supplied by the governor.
type RequestQueue struct {
	mu     sync.Mutex
	queues map[string]*apiQueue
	drain  func(api string)
	closed bool
	wg     sync.WaitGroup
}

// NewRequestQueue creates a queue whose workers run drain.
func NewRequestQueue(drain func(api string)) *RequestQueue {
	return &RequestQueue{
		queues: make(map[string]*apiQueue),
		drain:  drain,
	}
}

func (q *RequestQueue) queue(api string) *apiQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queueLocked(api)
}

func (q *RequestQueue) queueLocked(api string) *apiQueue {
	aq, ok := q.queues[api]
	if !ok {
		aq = &apiQueue{}
		q.queues[api] = aq
	}
	return aq
}

// Enqueue appends req to api's backlog and starts a worker if none runs.
// It returns the backlog length after the append.
func (q *RequestQueue) Enqueue(api string, req *queuedRequest) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	aq := q.queueLocked(api)
	aq.mu.Lock()
	aq.entries = append(aq.entries, req)
	length := len(aq.entries)
	start := !aq.draining
	aq.draining = true
	aq.mu.Unlock()

	if start {
		q.spawnLocked(api)
	}
	return length, nil
}

// Resume restarts a stopped worker for api if entries are waiting.
func (q *RequestQueue) Resume(api string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	aq := q.queueLocked(api)
	aq.mu.Lock()
	start := !aq.draining && len(aq.entries) > 0
	if start {
		aq.draining = true
	}
	aq.mu.Unlock()

	if start {
		q.spawnLocked(api)
	}
}

// spawnLocked starts a worker. Caller holds q.mu and has checked q.closed.
func (q *RequestQueue) spawnLocked(api string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.drain(api)
	}()
}

// next returns the head entry without removing it, dropping entries whose
// callers have gone away. On an empty backlog the draining flag is cleared
// under the same lock, so a concurrent Enqueue starts a fresh worker.
func (q *RequestQueue) next(api string) (*queuedRequest, bool) {
	aq := q.queue(api)
	aq.mu.Lock()
	defer aq.mu.Unlock()

	for len(aq.entries) > 0 && aq.entries[0].abandoned() {
		aq.entries[0] = nil
		aq.entries = aq.entries[1:]
	}
	if len(aq.entries) == 0 {
		aq.draining = false
		return nil, false
	}
	return aq.entries[0], true
}

// pop removes req from the head of api's backlog.
func (q *RequestQueue) pop(api string, req *queuedRequest) int {
	aq := q.queue(api)
	aq.mu.Lock()
	defer aq.mu.Unlock()

	if len(aq.entries) > 0 && aq.entries[0] == req {
		aq.entries[0] = nil
		aq.entries = aq.entries[1:]
	}
	return len(aq.entries)
}

// stopDraining ends the current worker run and reports how many entries it
// leaves behind.
func (q *RequestQueue) stopDraining(api string) int {
	aq := q.queue(api)
	aq.mu.Lock()
	defer aq.mu.Unlock()

	aq.draining = false
	return len(aq.entries)
}

// Len returns the number of live entries waiting for api.
func (q *RequestQueue) Len(api string) int {
	aq := q.queue(api)
	aq.mu.Lock()
	defer aq.mu.Unlock()

	n := 0
	for _, e := range aq.entries {
		if !e.abandoned() {
			n++
		}
	}
	return n
}

// Draining reports whether a worker is active for api.
func (q *RequestQueue) Draining(api string) bool {
	aq := q.queue(api)
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.draining
}

// Close refuses new entries, waits for running workers to return and hands
// every remaining entry to reject.
func (q *RequestQueue) Close(reject func(api string, req *queuedRequest)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	queues := make(map[string]*apiQueue, len(q.queues))
	for api, aq := range q.queues {
		queues[api] = aq
	}
	q.mu.Unlock()

	for api, aq := range queues {
		aq.mu.Lock()
		entries := aq.entries
		aq.entries = nil
		aq.draining = false
		aq.mu.Unlock()

		for _, req := range entries {
			reject(api, req)
		}
	}
}

// enqueue defers a call and blocks until the drain worker resolves it or
// ctx ends. An abandoned entry is skipped without consuming a slot.
func (g *Governor) enqueue(ctx context.Context, api, key, requestID string, fn RequestFunc) (any, error) {
	req := newQueuedRequest(ctx, key, requestID, fn, g.clock.Now())
	length, err := g.queue.Enqueue(api, req)
	if err != nil {
		return nil, g.newError(ErrorTypeClosed, api, "governor is closed", nil, requestID)
	}
	g.metrics.RecordQueued(api, length)

	if g.debugOn(g.debug.LogQueue) {
		g.logger.Debug("Rate limit reached, request queued", "requestID", requestID, "api", api, "queueLength", length, "nextSlotIn", g.limiter.NextSlotIn(api))
	}

	select {
	case r := <-req.result:
		return r.data, r.err
	case <-ctx.Done():
		req.cancelled.Store(true)
		g.metrics.RecordQueueLength(api, g.queue.Len(api))
		return nil, ctx.Err()
	}
}

// drain is the per-API worker loop. It resolves queued calls in arrival
// order, one rate limit slot at a time.
func (g *Governor) drain(api string) {
	start := g.clock.Now()
	attempt := 0

	for {
		if g.clock.Since(start) >= g.drainConfig.MaxDuration {
			remaining := g.queue.stopDraining(api)
			if remaining > 0 {
				g.metrics.RecordDrainAbandoned(api, remaining)
				g.logger.Warn("Drain ceiling reached, backlog left for a later run", "api", api, "remaining", remaining, "ceiling", g.drainConfig.MaxDuration)
				g.clock.AfterFunc(g.drainConfig.RateLimitBackoff, func() {
					g.queue.Resume(api)
				})
			}
			return
		}

		req, ok := g.queue.next(api)
		if !ok {
			g.metrics.RecordQueueLength(api, 0)
			return
		}

		if data, hit := g.cache.Get(req.key); hit {
			g.metrics.RecordQueueLength(api, g.queue.pop(api, req))
			g.metrics.RecordCacheHit(api)
			req.deliver(data, nil)
			continue
		}

		if !g.breaker.Allow(api) {
			g.metrics.RecordQueueLength(api, g.queue.pop(api, req))
			req.deliver(nil, g.circuitOpenError(api, req.requestID))
			continue
		}

		if !g.limiter.TryAcquire(api) {
			g.breaker.Release(api)
			delay := g.drainBackoff.Calculate(attempt, g.drainConfig.RateLimitBackoff, g.drainConfig.MaxRateLimitBackoff, 2.0, 0.1)
			attempt++
			if g.debugOn(g.debug.LogRateLimit) {
				g.logger.Debug("Drain waiting for rate limit window", "api", api, "delay", delay, "nextSlotIn", g.limiter.NextSlotIn(api))
			}
			if !g.sleep(delay) {
				return
			}
			continue
		}
		attempt = 0

		if req.abandoned() {
			g.limiter.Refund(api)
			g.breaker.Release(api)
			g.metrics.RecordQueueLength(api, g.queue.pop(api, req))
			req.deliver(nil, req.ctx.Err())
			continue
		}

		g.metrics.RecordQueueLength(api, g.queue.pop(api, req))
		g.metrics.RecordRemainingRequests(api, g.limiter.Remaining(api))
		if g.debugOn(g.debug.LogQueue) {
			g.logger.Debug("Executing queued request", "requestID", req.requestID, "api", api, "waited", g.clock.Since(req.enqueuedAt))
		}

		data, err := g.execute(req.ctx, api, req.key, req.requestID, req.fn)
		req.deliver(data, err)

		if !g.sleep(g.drainConfig.InterRequestDelay) {
			return
		}
	}
}

// sleep waits d on the governor clock. It returns false if the governor was
// closed meanwhile.
func (g *Governor) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-g.stop:
			return false
		default:
			return true
		}
	}

	timer := g.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return true
	case <-g.stop:
		return false
	}
}
