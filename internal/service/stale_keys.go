package service

import (
	"sync"
	"time"
)

// staleKeys remembers cache keys whose invalidation failed. Reads bypass the cache for
// them until the entry is rewritten or the window (the cache TTL) has passed.
type staleKeys struct {
	mu     sync.Mutex
	window time.Duration
	until  map[string]time.Time
	now    func() time.Time
}

func newStaleKeys(window time.Duration) *staleKeys {
	return &staleKeys{window: window, until: make(map[string]time.Time), now: time.Now}
}

func (k *staleKeys) mark(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.until[key] = k.now().Add(k.window)
}

func (k *staleKeys) has(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	until, ok := k.until[key]
	if ok && k.now().After(until) {
		delete(k.until, key)
		return false
	}
	return ok
}

func (k *staleKeys) clear(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.until, key)
}
