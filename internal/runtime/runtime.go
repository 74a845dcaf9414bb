// Package runtime holds the two pieces of process-wide shared state: the
// idempotency map guarding in-flight comment posts, and the advisory request
// limiter. Both are concurrency-safe singletons owned by the orchestrator.
package runtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PostState is the lifecycle of one idempotent post attempt.
type PostState string

const (
	StatePending   PostState = "pending"
	StateCompleted PostState = "completed"
	StateFailed    PostState = "failed"
)

// pendingTTL bounds how long a pending entry suppresses a duplicate post.
const pendingTTL = 60 * time.Second

// completedTTL bounds total map growth; completed and failed entries only
// matter within one review run.
const completedTTL = time.Hour

type entry struct {
	state PostState
	at    time.Time
	err   error
}

// Runtime is the per-process shared state.
type Runtime struct {
	mu      sync.Mutex
	posts   map[string]entry
	limiter *rate.Limiter
	now     func() time.Time // test hook
}

// New builds a runtime with the given advisory request budget per hour.
func New(requestsPerHour int) *Runtime {
	if requestsPerHour <= 0 {
		requestsPerHour = 5000
	}
	// Token refill spread over the hour; burst of a minute's worth so short
	// posting loops are not throttled.
	burst := requestsPerHour / 60
	if burst < 10 {
		burst = 10
	}
	return &Runtime{
		posts:   make(map[string]entry),
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerHour)/3600.0), burst),
		now:     time.Now,
	}
}

// ShouldSkip reports whether an identical post is already in flight: a
// pending entry fresher than the pending TTL.
func (r *Runtime) ShouldSkip(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.posts[key]
	return ok && e.state == StatePending && r.now().Sub(e.at) < pendingTTL
}

// MarkPending records the post as in flight.
func (r *Runtime) MarkPending(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.posts[key] = entry{state: StatePending, at: r.now()}
}

// MarkCompleted records a successful post.
func (r *Runtime) MarkCompleted(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[key] = entry{state: StateCompleted, at: r.now()}
}

// MarkFailed records a failed post with its error.
func (r *Runtime) MarkFailed(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[key] = entry{state: StateFailed, at: r.now(), err: err}
}

// State returns the recorded state for a key, if any.
func (r *Runtime) State(key string) (PostState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.posts[key]
	return e.state, ok
}

// Allow reports whether the advisory request budget permits another request.
func (r *Runtime) Allow() bool {
	return r.limiter.Allow()
}

// evictLocked drops stale entries. Pending entries expire after the pending
// TTL, everything else after the rolling window.
func (r *Runtime) evictLocked() {
	now := r.now()
	for k, e := range r.posts {
		ttl := completedTTL
		if e.state == StatePending {
			ttl = pendingTTL
		}
		if now.Sub(e.at) > ttl {
			delete(r.posts, k)
		}
	}
}
