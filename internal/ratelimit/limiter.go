// Package ratelimit implements a fixed-window per-client request limiter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/Exponenture/SlypStream/internal/ingest"
)

// Decision is the result of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type entry struct {
	stamps      []time.Time
	lastCleanup time.Time
}

// Limiter counts admissions per client key inside a trailing window. State is
// in-memory only; a process restart resets all counters.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	max     int
	clock   ingest.Clock
}

// New creates a Limiter admitting max requests per key per window.
func New(window time.Duration, max int, clock ingest.Clock) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		window:  window,
		max:     max,
		clock:   clock,
	}
}

// Check admits or denies one request for key. Denials report how long the
// caller should wait before the oldest counted admission ages out.
func (l *Limiter) Check(key string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{lastCleanup: now}
		l.entries[key] = e
	}

	e.stamps = prune(e.stamps, now.Add(-l.window))
	if now.Sub(e.lastCleanup) > 2*l.window {
		l.sweepLocked(now, key)
		e.lastCleanup = now
	}

	if len(e.stamps) >= l.max {
		retryAfter := e.stamps[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	e.stamps = append(e.stamps, now)
	return Decision{Allowed: true}
}

// Len reports how many client keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweepLocked evicts entries whose newest admission predates 2×window,
// bounding memory without a background timer. The key being checked is left
// alone. Caller holds the mutex.
func (l *Limiter) sweepLocked(now time.Time, current string) {
	horizon := now.Add(-2 * l.window)
	for key, e := range l.entries {
		if key == current {
			continue
		}
		if len(e.stamps) == 0 || e.stamps[len(e.stamps)-1].Before(horizon) {
			delete(l.entries, key)
		}
	}
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[idx:]...)
}
