// Package ratelimit throttles verification code submissions per client so a
// kiosk cannot be used to enumerate share codes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"enrollgate/pkg/platform/clock"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is an in-memory sliding-window counter keyed by client.
type Limiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string][]time.Time
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New allows limit requests per key within window. A limit below 1 yields a
// nil Limiter, which allows everything.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit < 1 || window <= 0 {
		return nil
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		clock:   clock.Real(),
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for key if it fits in the window.
func (l *Limiter) Allow(key string) Result {
	if l == nil {
		return Result{Allowed: true}
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := prune(l.windows[key], now.Add(-l.window))
	if len(stamps) >= l.limit {
		l.windows[key] = stamps
		resetAt := stamps[0].Add(l.window)
		return Result{
			Limit:      l.limit,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}
	stamps = append(stamps, now)
	l.windows[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(stamps),
		ResetAt:   stamps[0].Add(l.window),
	}
}

// Sweep drops keys whose window has fully expired.
func (l *Limiter) Sweep() {
	if l == nil {
		return
	}
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, stamps := range l.windows {
		if stamps = prune(stamps, cutoff); len(stamps) == 0 {
			delete(l.windows, key)
		} else {
			l.windows[key] = stamps
		}
	}
}

// Run sweeps once per window until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	if l == nil {
		return nil
	}
	ticker := l.clock.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			l.Sweep()
		}
	}
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
