// Package ratelimit implements a per-session token bucket guarding inbound
// administrative traffic (TestRequest/ResendRequest floods) independent of
// application message throughput, which is out of scope for this engine.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so tests can drive refill deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Limiter is a single-bucket token-bucket rate limiter. Zero value is not
// usable; construct with New.
type Limiter struct {
	mu sync.Mutex

	ratePerSecond int
	burst         int
	clock         Clock

	tokens       int
	lastRefill   time.Time
	carryNanos   int64 // fractional nanoseconds not yet converted to a token
	violations   int64
}

// New returns a Limiter allowing ratePerSecond messages/sec with bursts up
// to burst. A ratePerSecond of 0 means unlimited: Allow always returns true.
func New(ratePerSecond, burst int) *Limiter {
	return NewWithClock(ratePerSecond, burst, systemClock{})
}

// NewWithClock is New with an injectable Clock, for tests.
func NewWithClock(ratePerSecond, burst int, clock Clock) *Limiter {
	return &Limiter{
		ratePerSecond: ratePerSecond,
		burst:         burst,
		clock:         clock,
		tokens:        burst,
		lastRefill:    clock.Now(),
	}
}

// Allow reports whether one more message may be accepted right now,
// consuming a token if so. Uses integer nanosecond arithmetic throughout so
// refill amounts never lose precision to float rounding over long uptimes.
func (l *Limiter) Allow() bool {
	if l.ratePerSecond <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	if l.tokens > 0 {
		l.tokens--
		return true
	}
	l.violations++
	return false
}

func (l *Limiter) refillLocked() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	l.carryNanos += elapsed

	toAdd := (l.carryNanos * int64(l.ratePerSecond)) / 1_000_000_000
	if toAdd <= 0 {
		return
	}
	l.tokens += int(toAdd)
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.carryNanos -= toAdd * 1_000_000_000 / int64(l.ratePerSecond)
	l.lastRefill = now
}

// Violations returns the number of rejected Allow calls since construction.
func (l *Limiter) Violations() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations
}

// AvailableTokens reports the current bucket level, refilling first. Used
// by the admin HTTP API's health endpoint.
func (l *Limiter) AvailableTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}
