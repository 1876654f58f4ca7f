// Package ratelimit throttles bursts of chat requests per user. It sits in
// front of the quota gate and protects the model budget from rapid retries.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the sliding window size
const Window = time.Minute

// Limiter implements a per-user sliding window rate limiter
type Limiter struct {
	limit   int                    // max requests per window (0 = disabled)
	windows map[string][]time.Time // userID -> request times inside the window
	now     func() time.Time
	mu      sync.Mutex
}

// New creates a limiter allowing limit requests per minute per user.
// limit <= 0 disables limiting.
func New(limit int) *Limiter {
	return &Limiter{
		limit:   limit,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records a request and reports whether it may proceed. When refused,
// retryAfter says how long until the oldest request leaves the window.
func (l *Limiter) Allow(userID string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return true, 0
	}

	now := l.now()
	timestamps := l.live(userID, now)

	if len(timestamps) >= l.limit {
		l.windows[userID] = timestamps
		return false, timestamps[0].Add(Window).Sub(now)
	}

	l.windows[userID] = append(timestamps, now)
	return true, 0
}

// Remaining returns how many requests the user has left in the current window
func (l *Limiter) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return -1 // unlimited
	}

	remaining := l.limit - len(l.live(userID, l.now()))
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// SetLimit changes the per-minute limit; recorded requests are kept
func (l *Limiter) SetLimit(limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
}

// Prune drops users with no requests inside the window
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for user := range l.windows {
		if len(l.live(user, now)) == 0 {
			delete(l.windows, user)
			removed++
		}
	}
	return removed
}

// live returns the user's timestamps still inside the window. Caller holds mu.
func (l *Limiter) live(userID string, now time.Time) []time.Time {
	timestamps := l.windows[userID]
	cutoff := now.Add(-Window)

	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) == 0 {
		delete(l.windows, userID)
		return nil
	}
	return valid
}
