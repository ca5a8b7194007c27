package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the number of keys a KeyedLimiter tracks when the
// caller does not specify a limit.
const DefaultMaxKeys = 65536

// KeyedLimiter is a fixed-window counter keyed by an arbitrary string (client
// address, connection id).
//
// Each key gets up to Limit hits per Window, measured from the first hit of
// the current window. A key whose window has elapsed starts a fresh window on
// its next hit. Limit <= 0 disables limiting.
//
// The key set is bounded: when MaxKeys is reached the least recently used key
// is evicted, which at worst resets that key's budget early.
type KeyedLimiter struct {
	clock   Clock
	limit   int
	window  time.Duration
	maxKeys int

	mu    sync.Mutex
	byKey map[string]*list.Element
	lru   *list.List
}

type windowEntry struct {
	key   string
	start time.Time
	hits  int
}

type KeyedLimiterConfig struct {
	Clock   Clock
	Limit   int
	Window  time.Duration
	MaxKeys int
}

func NewKeyedLimiter(cfg KeyedLimiterConfig) *KeyedLimiter {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	return &KeyedLimiter{
		clock:   cfg.Clock,
		limit:   cfg.Limit,
		window:  cfg.Window,
		maxKeys: cfg.MaxKeys,
		byKey:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Allow records a hit for key and reports whether it is within budget.
// Rejected hits do not count against the window.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.byKey[key]
	if !ok {
		l.evictLocked()
		elem = l.lru.PushFront(&windowEntry{key: key, start: now})
		l.byKey[key] = elem
	} else {
		l.lru.MoveToFront(elem)
	}
	e := elem.Value.(*windowEntry)

	if now.Before(e.start) || now.Sub(e.start) >= l.window {
		e.start = now
		e.hits = 0
	}
	if e.hits >= l.limit {
		return false
	}
	e.hits++
	return true
}

// Remaining reports how many hits key may still make in its current window.
func (l *KeyedLimiter) Remaining(key string) int {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return -1
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.byKey[key]
	if !ok {
		return l.limit
	}
	e := elem.Value.(*windowEntry)
	if now.Before(e.start) || now.Sub(e.start) >= l.window {
		return l.limit
	}
	return l.limit - e.hits
}

// Forget drops all state for key.
func (l *KeyedLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.byKey[key]; ok {
		l.lru.Remove(elem)
		delete(l.byKey, key)
	}
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *KeyedLimiter) evictLocked() {
	for len(l.byKey) >= l.maxKeys {
		back := l.lru.Back()
		if back == nil {
			return
		}
		l.lru.Remove(back)
		delete(l.byKey, back.Value.(*windowEntry).key)
	}
}
