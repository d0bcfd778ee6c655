// Package ratelimit provides sliding-window admission control keyed by
// caller identity. State is process-wide; idle keys are swept on an
// interval so the map stays bounded.
package ratelimit

import (
	"sync"
	"time"

	"fieldstack/assist/internal/core"
)

type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// New creates a limiter admitting limit requests per key in a trailing
// window. sweep is how often idle keys are evicted; zero disables the
// sweeper.
func New(limit int, window, sweep time.Duration) *Limiter {
	l := &Limiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	if sweep > 0 {
		go l.sweeper(sweep)
	}
	return l
}

// Admit records an attempt for key and reports whether it is within the
// window's budget. Pruning and the admission decision happen under one
// lock so concurrent callers cannot corrupt a key's history.
func (l *Limiter) Admit(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// ResetTime returns when the key's oldest entry leaves the window, i.e.
// the earliest instant at which Admit can return true again. The zero
// time means the key has no history.
func (l *Limiter) ResetTime(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key, l.now())
	l.hits[key] = recent
	if len(recent) == 0 {
		return time.Time{}
	}
	return recent[0].Add(l.window)
}

// prune drops entries older than the window. Caller holds the lock.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	entries := l.hits[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}

func (l *Limiter) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key := range l.hits {
		if len(l.prune(key, now)) == 0 {
			delete(l.hits, key)
			removed++
		}
	}
	if removed > 0 {
		core.GetLogger().Debugw("Swept idle limiter keys", "removed", removed, "remaining", len(l.hits))
	}
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}
