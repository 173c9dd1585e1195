package usecase

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LimitConfig describes one fixed-window policy.
type LimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// LimitResult is the outcome of a single rate-limit check.
type LimitResult struct {
	Success   bool
	Remaining int
	ResetIn   time.Duration
	Message   string
}

// limitEntry is one identifier's counter within its current window.
type limitEntry struct {
	count     int
	resetTime time.Time
}

// Limiter is an in-memory fixed-window rate limiter keyed by identifier.
// Counters reset entirely at window boundaries; an expired entry is replaced,
// not merged. State is process-local and non-durable.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]limitEntry

	logger *slog.Logger
	now    func() time.Time // for testing

	stop chan struct{}
	done chan struct{}
}

// NewLimiter creates a limiter and starts a background sweep that removes
// expired entries every sweepInterval so idle identifiers do not leak memory.
// Close stops the sweep.
func NewLimiter(sweepInterval time.Duration, logger *slog.Logger) *Limiter {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	l := &Limiter{
		entries: make(map[string]limitEntry),
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go l.sweepLoop(sweepInterval)
	return l
}

// Check records a request for identifier under cfg and reports whether it is
// allowed. Denials are a normal return value, not an error: callers translate
// Success=false into a rejection response.
func (l *Limiter) Check(identifier string, cfg LimitConfig) LimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	entry, ok := l.entries[identifier]
	// Strict boundary: a request arriving exactly at resetTime still counts
	// against the old window.
	if !ok || entry.resetTime.Before(now) {
		l.entries[identifier] = limitEntry{
			count:     1,
			resetTime: now.Add(cfg.Window),
		}
		return LimitResult{
			Success:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetIn:   cfg.Window,
		}
	}

	resetIn := entry.resetTime.Sub(now)

	if entry.count >= cfg.MaxRequests {
		seconds := int64((resetIn + time.Second - 1) / time.Second)
		return LimitResult{
			Success:   false,
			Remaining: 0,
			ResetIn:   resetIn,
			Message:   fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", seconds),
		}
	}

	entry.count++
	l.entries[identifier] = entry
	return LimitResult{
		Success:   true,
		Remaining: cfg.MaxRequests - entry.count,
		ResetIn:   resetIn,
	}
}

// Close stops the background sweep. Safe to call once.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.sweep(); n > 0 {
				l.logger.Debug("rate limiter sweep", "removed", n)
			}
		case <-l.stop:
			return
		}
	}
}

// sweep deletes entries whose window has already passed.
func (l *Limiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, entry := range l.entries {
		if entry.resetTime.Before(now) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// size reports the entry count, for tests.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
