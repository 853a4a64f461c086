package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
)

// caller is one provider integration: a provider family and the operator
// client id it calls on behalf of.
type caller struct {
	provider domain.Provider
	clientID int64
}

func (c caller) String() string { return fmt.Sprintf("%s:%d", c.provider, c.clientID) }

// RateLimiter admits callbacks per caller over a sliding window. Each
// provider may carry its own limit; a limit of zero or less disables
// limiting for that provider.
type RateLimiter struct {
	mu        sync.Mutex
	hits      map[caller][]time.Time
	limit     int
	providers map[domain.Provider]int
	window    time.Duration
	now       func() time.Time
	swept     time.Time
}

// RateLimitOption adjusts a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithProviderLimit overrides the default limit for one provider.
func WithProviderLimit(p domain.Provider, limit int) RateLimitOption {
	return func(rl *RateLimiter) { rl.providers[p] = limit }
}

// NewRateLimiter creates a rate limiter admitting limit callbacks per caller
// per window.
func NewRateLimiter(limit int, window time.Duration, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		hits:      make(map[caller][]time.Time),
		limit:     limit,
		providers: make(map[domain.Provider]int),
		window:    window,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Limit returns the limit applied to callbacks from p.
func (rl *RateLimiter) Limit(p domain.Provider) int {
	if n, ok := rl.providers[p]; ok {
		return n
	}
	return rl.limit
}

// Check records a callback from the provider's client and reports whether
// it is within the limit. Refused callbacks are not counted.
func (rl *RateLimiter) Check(_ context.Context, p domain.Provider, clientID int64) Result {
	limit := rl.Limit(p)
	if limit <= 0 {
		return Result{Allowed: true}
	}
	c := caller{provider: p, clientID: clientID}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	rl.sweep(now, cutoff)

	valid := live(rl.hits[c], cutoff)
	if len(valid) >= limit {
		rl.hits[c] = valid
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded for %s: %d/%s", c, limit, rl.window),
			Guard:   "rate_limiter",
		}
	}
	rl.hits[c] = append(valid, now)
	return Result{Allowed: true}
}

// Callers returns how many callers currently hold window entries.
func (rl *RateLimiter) Callers() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}

// sweep drops callers that have been idle for a whole window, at most once
// per window. Client ids come from the route, so the map must not keep
// every id ever seen.
func (rl *RateLimiter) sweep(now, cutoff time.Time) {
	if now.Sub(rl.swept) < rl.window {
		return
	}
	rl.swept = now
	for c, hits := range rl.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(rl.hits, c)
		}
	}
}

// live trims hits to those inside the window. Hits are kept in arrival
// order, so the expired ones form a prefix.
func live(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
