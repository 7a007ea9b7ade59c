package tracker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMinInterval is the minimum gap between two updates to one target.
	DefaultMinInterval = 1000 * time.Millisecond
	// DefaultBurst and DefaultBurstWindow cap updates per target to
	// DefaultBurst within any DefaultBurstWindow.
	DefaultBurst       = 3
	DefaultBurstWindow = 3000 * time.Millisecond
)

// RateLimiter throttles display updates per target. Requests exceeding the
// limits are delayed, never dropped. The terminal update bypasses the limiter
// entirely (callers simply don't Wait for it).
type RateLimiter struct {
	minInterval time.Duration
	burst       int
	window      time.Duration

	mu      sync.Mutex
	targets map[string]*targetLimiter
}

type targetLimiter struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	sends []time.Time
}

// NewRateLimiter creates a limiter with the given per-target constraints.
// Zero values select the defaults.
func NewRateLimiter(minInterval time.Duration, burst int, window time.Duration) *RateLimiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if window <= 0 {
		window = DefaultBurstWindow
	}
	return &RateLimiter{
		minInterval: minInterval,
		burst:       burst,
		window:      window,
		targets:     make(map[string]*targetLimiter),
	}
}

func (r *RateLimiter) target(name string) *targetLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[name]
	if !ok {
		t = &targetLimiter{lim: rate.NewLimiter(rate.Every(r.minInterval), 1)}
		r.targets[name] = t
	}
	return t
}

// Wait blocks until an update to the target is allowed. The per-target lock
// is held across the sleep so concurrent callers for one target are served in
// arrival order.
func (r *RateLimiter) Wait(ctx context.Context, name string) error {
	t := r.target(name)
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	// Burst window: drop send records that aged out, then delay until the
	// oldest remaining one leaves the window.
	cutoff := now.Add(-r.window)
	kept := t.sends[:0]
	for _, s := range t.sends {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	t.sends = kept

	at := now
	if len(t.sends) >= r.burst {
		at = t.sends[0].Add(r.window)
	}

	// Minimum inter-update interval on top of the burst constraint.
	res := t.lim.ReserveN(at, 1)
	at = at.Add(res.DelayFrom(at))

	if d := time.Until(at); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			res.Cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}

	t.sends = append(t.sends, time.Now())
	return nil
}

// Forget drops tracking state for a target once its display is finalized.
func (r *RateLimiter) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, name)
}
