// Package ratelimit enforces a per-origin message ceiling over fixed
// wall-clock windows.
//
// All origins share one window. When the clock crosses into a new window
// every counter is cleared at once; counters are never decremented
// individually. State lives in memory only and is lost on restart.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the window length used when none is configured.
const DefaultWindow = 15 * time.Minute

// ErrRateLimitExceeded is returned when admitting a request would take an
// origin past its ceiling for the current window.
var ErrRateLimitExceeded = errors.New("ratelimit: rate limit exceeded")

// Limiter admits or rejects message batches per origin.
type Limiter interface {
	// CheckAndConsume charges n messages to origin, or returns
	// ErrRateLimitExceeded without charging anything.
	CheckAndConsume(origin string, n int) error
}

// Stats is a snapshot of limiter state.
type Stats struct {
	WindowStart time.Time
	Origins     int
	Ceiling     int
}

// WindowLimiter is the in-process Limiter.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the check and the increment
//     happen under one lock.
type WindowLimiter struct {
	ceiling int
	window  time.Duration
	now     func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	counts      map[string]int
}

// Option configures a WindowLimiter.
type Option func(*WindowLimiter)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *WindowLimiter) {
		l.now = now
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(l *WindowLimiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// New creates a WindowLimiter admitting at most ceiling messages per origin
// per window.
func New(ceiling int, opts ...Option) *WindowLimiter {
	l := &WindowLimiter{
		ceiling: ceiling,
		window:  DefaultWindow,
		now:     time.Now,
		counts:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume implements Limiter.
//
// A batch is admitted when the origin's count plus n does not exceed the
// ceiling, so a batch that lands exactly on the ceiling succeeds.
func (l *WindowLimiter) CheckAndConsume(origin string, n int) error {
	if n < 0 {
		return fmt.Errorf("ratelimit: negative message count %d", n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()

	current := l.counts[origin]
	if current+n > l.ceiling {
		return fmt.Errorf("%w: origin has sent %d of %d messages this window", ErrRateLimitExceeded, current, l.ceiling)
	}
	if n > 0 {
		l.counts[origin] = current + n
	}
	return nil
}

// Stats returns the current window start and the number of tracked origins.
func (l *WindowLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	return Stats{WindowStart: l.windowStart, Origins: len(l.counts), Ceiling: l.ceiling}
}

// Ceiling returns the configured per-window ceiling.
func (l *WindowLimiter) Ceiling() int {
	return l.ceiling
}

// rollLocked clears every counter when the clock has entered a new window.
func (l *WindowLimiter) rollLocked() {
	start := l.now().UTC().Truncate(l.window)
	if !start.Equal(l.windowStart) {
		l.windowStart = start
		clear(l.counts)
	}
}
