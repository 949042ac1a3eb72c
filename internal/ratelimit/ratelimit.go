// Package ratelimit provides per-target admission control. Each target
// (model name) gets an independent token bucket; exhausting one target's
// budget never blocks dispatch to another.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits configures one target's bucket: Capacity is the burst size,
// RefillPerSecond the sustained admission rate in cost units per second.
type Limits struct {
	Capacity        int
	RefillPerSecond float64
}

// Status is a point-in-time view of one target's budget.
type Status struct {
	Available float64
	Capacity  int
	ResetETA  time.Duration
}

// DefaultLimits pre-seeds buckets for known targets. Unknown targets get
// the fallback entry.
var DefaultLimits = map[string]Limits{
	"gpt-4o":      {Capacity: 60, RefillPerSecond: 1},
	"gpt-4o-mini": {Capacity: 200, RefillPerSecond: 5},
	"o3-mini":     {Capacity: 30, RefillPerSecond: 0.5},
}

// FallbackLimits applies to targets with no seeded or custom entry.
var FallbackLimits = Limits{Capacity: 60, RefillPerSecond: 1}

// Registry holds one limiter per distinct target, created lazily on first
// reference and kept for the process lifetime. Only acquire attempts mutate
// bucket state.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   map[string]Limits
}

// NewRegistry creates a registry seeded with the default limit table.
// Custom entries override defaults per target.
func NewRegistry(custom map[string]Limits) *Registry {
	limits := make(map[string]Limits, len(DefaultLimits)+len(custom))
	for target, l := range DefaultLimits {
		limits[target] = l
	}
	for target, l := range custom {
		limits[target] = l
	}
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		limits:   limits,
	}
}

// LimitsFor returns the configured limits for a target.
func (r *Registry) LimitsFor(target string) Limits {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limitsForLocked(target)
}

func (r *Registry) limitsForLocked(target string) Limits {
	if l, ok := r.limits[target]; ok {
		return l
	}
	return FallbackLimits
}

func (r *Registry) limiterLocked(target string) *rate.Limiter {
	if lim, ok := r.limiters[target]; ok {
		return lim
	}
	l := r.limitsForLocked(target)
	lim := rate.NewLimiter(rate.Limit(l.RefillPerSecond), l.Capacity)
	r.limiters[target] = lim
	return lim
}

// TryAcquire attempts to admit an operation of the given estimated cost.
// Non-blocking; returns false when the budget is exhausted. Costs larger
// than the bucket capacity are clamped so oversized tasks can still run
// once the bucket is full.
func (r *Registry) TryAcquire(target string, cost int) bool {
	r.mu.Lock()
	lim := r.limiterLocked(target)
	capacity := r.limitsForLocked(target).Capacity
	r.mu.Unlock()

	if cost < 1 {
		cost = 1
	}
	if cost > capacity {
		cost = capacity
	}
	return lim.AllowN(time.Now(), cost)
}

// Statuses returns the budget state of every target referenced so far.
func (r *Registry) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.limiters))
	now := time.Now()
	for target, lim := range r.limiters {
		l := r.limitsForLocked(target)
		available := lim.TokensAt(now)
		if available < 0 {
			available = 0
		}
		var eta time.Duration
		if available < 1 && l.RefillPerSecond > 0 {
			eta = time.Duration((1 - available) / l.RefillPerSecond * float64(time.Second))
		}
		out[target] = Status{
			Available: available,
			Capacity:  l.Capacity,
			ResetETA:  eta,
		}
	}
	return out
}
