package gateway

import (
	"sync"
	"time"
)

// Rate limit rejection reasons.
const (
	reasonRateLimited   = "rate limit exceeded"
	reasonTooConcurrent = "too many concurrent requests"
)

// clientWindow is the sliding window and in-flight count of one client.
type clientWindow struct {
	requests   []time.Time
	concurrent int
}

// RateLimiter implements per-client sliding window rate limiting with a cap
// on concurrent streams. A zero limit disables that check.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	clients           map[string]*clientWindow
	now               func() time.Time
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		clients:           make(map[string]*clientWindow),
		now:               time.Now,
	}
}

// Acquire admits a request from client. On success the caller must call the
// returned release func when the request ends. On rejection it returns the
// reason and the seconds until a retry can succeed.
func (r *RateLimiter) Acquire(client string) (release func(), reason string, retryAfter int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.clients[client]
	if w == nil {
		w = &clientWindow{}
		r.clients[client] = w
	}
	w.prune(now)

	if r.maxConcurrent > 0 && w.concurrent >= r.maxConcurrent {
		return nil, reasonTooConcurrent, 1
	}
	if r.requestsPerMinute > 0 && len(w.requests) >= r.requestsPerMinute {
		wait := time.Minute - now.Sub(w.requests[0])
		return nil, reasonRateLimited, int((wait + time.Second - 1) / time.Second)
	}

	w.requests = append(w.requests, now)
	w.concurrent++

	var once sync.Once
	return func() {
		once.Do(func() { r.release(client) })
	}, "", 0
}

func (r *RateLimiter) release(client string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.clients[client]
	if w == nil {
		return
	}
	if w.concurrent > 0 {
		w.concurrent--
	}
	w.prune(r.now())
	if w.concurrent == 0 && len(w.requests) == 0 {
		delete(r.clients, client)
	}
}

// Stats returns the requests in the current window and the in-flight count
// for client.
func (r *RateLimiter) Stats(client string) (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.clients[client]
	if w == nil {
		return 0, 0
	}
	w.prune(r.now())
	return len(w.requests), w.concurrent
}

// prune drops requests older than one minute.
func (w *clientWindow) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	w.requests = w.requests[i:]
}
