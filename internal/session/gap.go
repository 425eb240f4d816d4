package session

import (
	"sync"
	"time"
)

// GapStats is a point-in-time view of the current inbound sequence gap, if
// any, purely for observability: it never gates when next_expected_inbound
// advances. The session's own sequence validation (admin.go) is the single
// source of truth for that policy; this tracker is a side channel a
// supervisor or dashboard can poll.
type GapStats struct {
	Open        bool
	BeginSeqNo  int
	EndSeqNo    int
	DetectedAt  time.Time
	ResendSent  bool
	DuplicateCount int64
}

// GapTracker accumulates the statistics above as the session observes
// inbound sequence numbers. It mirrors the shape of a dedicated gap
// recovery manager but, per this engine's chosen gap policy, never buffers
// or withholds messages — the session always advances immediately.
type GapTracker struct {
	mu             sync.Mutex
	current        *GapStats
	duplicateCount int64
}

// NewGapTracker returns an empty tracker.
func NewGapTracker() *GapTracker {
	return &GapTracker{}
}

// Observe records one inbound MsgSeqNum against the expected value at the
// moment it arrived, classifying it the same way admin.go's sequence
// validation does.
func (g *GapTracker) Observe(n, e int, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case n > e:
		g.current = &GapStats{
			Open:       true,
			BeginSeqNo: e,
			EndSeqNo:   n - 1,
			DetectedAt: now,
		}
	case n < e:
		g.duplicateCount++
	default:
		g.current = nil
	}
}

// MarkResendSent records that a ResendRequest has been emitted for the
// currently open gap, if any.
func (g *GapTracker) MarkResendSent() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		g.current.ResendSent = true
	}
}

// Snapshot returns the current gap statistics.
func (g *GapTracker) Snapshot() GapStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GapStats{DuplicateCount: g.duplicateCount}
	if g.current != nil {
		stats.Open = g.current.Open
		stats.BeginSeqNo = g.current.BeginSeqNo
		stats.EndSeqNo = g.current.EndSeqNo
		stats.DetectedAt = g.current.DetectedAt
		stats.ResendSent = g.current.ResendSent
	}
	return stats
}
