package ratelimit

import (
	"sync"
	"time"
)

// FrameBudget caps the frames read from one duplex connection at perSecond
// on average, with up to burst frames back to back. Instead of counting
// tokens it keeps the theoretical arrival time of the next frame and rejects
// a frame that would push that time more than burst-1 intervals past now.
//
// A nil *FrameBudget allows everything.
type FrameBudget struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	slack    time.Duration
	next     time.Time
	seen     time.Time
}

// NewFrameBudget returns nil when perSecond <= 0.
func NewFrameBudget(clock Clock, burst, perSecond int) *FrameBudget {
	if perSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	if burst < 1 {
		burst = 1
	}
	interval := time.Second / time.Duration(perSecond)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	now := clock.Now()
	return &FrameBudget{
		clock:    clock,
		interval: interval,
		slack:    time.Duration(burst-1) * interval,
		next:     now,
		seen:     now,
	}
}

// Allow accounts for one frame and reports whether it fits the budget.
func (b *FrameBudget) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.Before(b.seen) {
		// Move the schedule with the clock; a backwards step earns nothing.
		b.next = b.next.Add(now.Sub(b.seen))
	}
	b.seen = now

	next := b.next
	if next.Before(now) {
		next = now
	}
	if next.Sub(now) > b.slack {
		return false
	}
	b.next = next.Add(b.interval)
	return true
}
