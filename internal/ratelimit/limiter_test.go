package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestLimiterAllowsUpToBurstThenThrottles(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWithClock(10, 5, clock)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("expected burst token %d to be allowed", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected bucket to be exhausted after burst")
	}
	if v := l.Violations(); v != 1 {
		t.Fatalf("expected 1 violation, got %d", v)
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWithClock(10, 2, clock)

	if !l.Allow() || !l.Allow() {
		t.Fatal("expected both burst tokens to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected bucket empty")
	}

	clock.advance(200 * time.Millisecond) // 10/sec * 0.2s = 2 tokens
	if !l.Allow() {
		t.Fatal("expected a token to have refilled after 200ms at 10/sec")
	}
}

func TestLimiterZeroRateIsUnlimited(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatalf("expected unlimited limiter to always allow, failed at %d", i)
		}
	}
}

func TestLimiterNeverExceedsBurstCeiling(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWithClock(10, 3, clock)

	clock.advance(10 * time.Second) // far more than enough to overflow without a ceiling
	if got := l.AvailableTokens(); got != 3 {
		t.Fatalf("expected tokens capped at burst size 3, got %d", got)
	}
}
